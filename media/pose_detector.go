package media

import (
	"fmt"
	"image"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/keypointlab/infantposebackend/models"
)

// DNNPoseDetector runs a YOLO pose model through OpenCV's DNN module to
// produce baseline keypoints for uploaded images.
type DNNPoseDetector struct {
	Net     gocv.Net
	Enabled bool

	Labels       []string
	modelVersion string

	// configuration parameters used during inference
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	ConfThreshold float32
}

// NewDNNPoseDetector loads the pose estimation model. A missing model path
// yields a disabled detector; callers get ProcessingError-style failures
// rather than a startup crash, so the annotation workflow stays usable.
func NewDNNPoseDetector(modelPath, modelVersion string, labels []string) *DNNPoseDetector {
	if modelPath == "" {
		log.Println("pose(dnn): model path is empty, disabling pose detector")
		return &DNNPoseDetector{Enabled: false, modelVersion: modelVersion, Labels: labels}
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		log.Printf("pose(dnn): ERROR loading network model: %s", modelPath)
		return &DNNPoseDetector{Enabled: false, modelVersion: modelVersion, Labels: labels}
	}
	log.Printf("pose(dnn): successfully loaded pose model %s", modelVersion)

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("pose(dnn): Set backend/target to CUDA")
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("pose(dnn): Set backend/target to CPU (Default)")
	}

	return &DNNPoseDetector{
		Net:           net,
		Enabled:       true,
		Labels:        labels,
		modelVersion:  modelVersion,
		InputSizeW:    640,
		InputSizeH:    640,
		ScaleFactor:   1.0 / 255.0,
		ConfThreshold: 0.25,
	}
}

// ModelVersion identifies the loaded model in stored results.
func (d *DNNPoseDetector) ModelVersion() string {
	return d.modelVersion
}

func (d *DNNPoseDetector) Close() {
	if d != nil && d.Enabled {
		d.Net.Close()
		log.Println("pose(dnn): closed network")
		d.Enabled = false
	}
}

// EstimatePose runs the model on one image and maps the strongest detection
// to the configured keypoint labels. Coordinates are returned in original
// image pixels.
func (d *DNNPoseDetector) EstimatePose(imagePath string) (*PoseResult, error) {
	if d == nil || !d.Enabled {
		return nil, fmt.Errorf("pose detector is not available")
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("failed to read image file for dnn: %s", imagePath)
	}
	defer img.Close()

	start := time.Now()

	imgWidth := float32(img.Cols())
	imgHeight := float32(img.Rows())

	blob := gocv.BlobFromImage(img, d.ScaleFactor, image.Pt(d.InputSizeW, d.InputSizeH),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.Net.SetInput(blob, "")
	output := d.Net.Forward("")
	defer output.Close()

	keypoints, confidence, err := d.parsePoseOutput(output, imgWidth, imgHeight)
	if err != nil {
		return nil, err
	}

	result := &PoseResult{
		Keypoints:        keypoints,
		Confidence:       confidence,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		ModelVersion:     d.modelVersion,
	}
	log.Printf("pose(dnn): %s: %d keypoints, confidence %.2f", imagePath, len(keypoints), confidence)
	return result, nil
}

// parsePoseOutput reads the YOLO pose head layout: per candidate box
// [cx, cy, w, h, score, kp0x, kp0y, kp0conf, ...], picking the highest
// scoring candidate.
func (d *DNNPoseDetector) parsePoseOutput(output gocv.Mat, imgWidth, imgHeight float32) (models.KeypointList, float64, error) {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, 0, fmt.Errorf("unexpected pose output dimensions: %v", sizes)
	}

	rowLen := sizes[1]
	numCandidates := sizes[2]
	expected := 5 + len(d.Labels)*3
	if rowLen < expected {
		return nil, 0, fmt.Errorf("pose output row length %d is too small for %d keypoints", rowLen, len(d.Labels))
	}

	flat := output.Reshape(1, rowLen)
	defer flat.Close()

	bestScore := float32(0)
	bestIdx := -1
	for i := 0; i < numCandidates; i++ {
		score := flat.GetFloatAt(4, i)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestScore < d.ConfThreshold {
		return nil, 0, fmt.Errorf("no pose detected above confidence threshold %.2f", d.ConfThreshold)
	}

	scaleX := imgWidth / float32(d.InputSizeW)
	scaleY := imgHeight / float32(d.InputSizeH)

	keypoints := make(models.KeypointList, 0, len(d.Labels))
	for k, label := range d.Labels {
		base := 5 + k*3
		x := flat.GetFloatAt(base, bestIdx) * scaleX
		y := flat.GetFloatAt(base+1, bestIdx) * scaleY
		conf := flat.GetFloatAt(base+2, bestIdx)
		keypoints = append(keypoints, models.Keypoint{
			ID:         k,
			Name:       label,
			X:          float64(x),
			Y:          float64(y),
			Confidence: float64(conf),
			Visible:    conf >= d.ConfThreshold,
		})
	}
	return keypoints, float64(bestScore), nil
}

// InfantPoseLabels is the 26-keypoint layout the bundled infant pose model
// was trained on.
var InfantPoseLabels = []string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
	"head", "neck", "mid_back", "lower_back", "upper_back",
	"left_palm_end", "right_palm_end", "left_foot_end", "right_foot_end",
}

// InfantPoseConnections is the matching skeleton, usable as the default
// schema's connection set.
var InfantPoseConnections = [][2]int{
	{0, 1}, {0, 2}, {1, 3}, {2, 4}, {5, 7}, {7, 9},
	{6, 8}, {8, 10}, {11, 13}, {13, 15}, {12, 14}, {14, 16},
	{17, 18}, {18, 21}, {19, 21}, {19, 20}, {20, 11}, {20, 12},
	{15, 24}, {16, 25}, {9, 22}, {10, 23},
}

// InfantPoseSchemaTemplate returns the bundled model's layout as schema
// definition pieces, ready to register as-is or trim down.
func InfantPoseSchemaTemplate() ([]models.SchemaKeypoint, []models.SchemaConnection) {
	keypoints := make([]models.SchemaKeypoint, len(InfantPoseLabels))
	for i, name := range InfantPoseLabels {
		keypoints[i] = models.SchemaKeypoint{ID: i, Name: name}
	}
	connections := make([]models.SchemaConnection, len(InfantPoseConnections))
	for i, c := range InfantPoseConnections {
		connections[i] = models.SchemaConnection{From: c[0], To: c[1]}
	}
	return keypoints, connections
}
