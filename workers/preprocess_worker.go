package workers

import (
	"log"
	"sync"

	"github.com/keypointlab/infantposebackend/media"
	"github.com/keypointlab/infantposebackend/workflow"
)

// PreprocessJob is one image waiting for pose estimation.
type PreprocessJob struct {
	ImageID     uint
	StoragePath string
}

// PreprocessPool runs pose estimation for freshly uploaded images on a fixed
// set of workers. Results and failures are written back through the workflow
// engine so batch readiness derives in the same transaction; a failed image
// is recorded once and left for external tooling to retry, never re-run here.
type PreprocessPool struct {
	JobQueue  chan PreprocessJob
	Engine    *workflow.Engine
	Estimator media.PoseEstimator
	Wg        sync.WaitGroup
	StopChan  chan struct{}
	Pending   map[uint]bool
	Mutex     sync.Mutex
}

// NewPreprocessPool starts numWorkers workers consuming the queue.
func NewPreprocessPool(engine *workflow.Engine, estimator media.PoseEstimator, queueSize, numWorkers int) *PreprocessPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	pool := &PreprocessPool{
		JobQueue:  make(chan PreprocessJob, queueSize),
		Engine:    engine,
		Estimator: estimator,
		StopChan:  make(chan struct{}),
		Pending:   make(map[uint]bool),
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	log.Printf("Started %d preprocessing worker(s) with queue size %d", numWorkers, queueSize)
	return pool
}

// Enqueue schedules an image for pose estimation. Returns false when the
// image is already queued or the queue is full; callers treat a full queue
// as backpressure, the image stays UPLOADED and is picked up by the next
// requeue sweep.
func (p *PreprocessPool) Enqueue(imageID uint, storagePath string) bool {
	p.Mutex.Lock()
	if p.Pending[imageID] {
		p.Mutex.Unlock()
		return false
	}
	p.Pending[imageID] = true
	p.Mutex.Unlock()

	select {
	case p.JobQueue <- PreprocessJob{ImageID: imageID, StoragePath: storagePath}:
		return true
	default:
		p.Mutex.Lock()
		delete(p.Pending, imageID)
		p.Mutex.Unlock()
		log.Printf("Preprocess queue full, image %d left for requeue", imageID)
		return false
	}
}

// Stop signals workers to drain and waits for them.
func (p *PreprocessPool) Stop() {
	close(p.StopChan)
	p.Wg.Wait()
}

func (p *PreprocessPool) worker(id int) {
	defer p.Wg.Done()
	log.Printf("Preprocess worker %d started", id)
	for {
		select {
		case job, ok := <-p.JobQueue:
			if !ok {
				log.Printf("Preprocess worker %d stopping: job queue closed", id)
				return
			}
			p.process(id, job)
			p.Mutex.Lock()
			delete(p.Pending, job.ImageID)
			p.Mutex.Unlock()

		case <-p.StopChan:
			log.Printf("Preprocess worker %d stopping: stop signal received", id)
			return
		}
	}
}

func (p *PreprocessPool) process(id int, job PreprocessJob) {
	result, err := p.Estimator.EstimatePose(job.StoragePath)
	if err != nil {
		procErr := &workflow.ProcessingError{ImageID: job.ImageID, Detail: err.Error()}
		log.Printf("Worker %d: %v", id, procErr)
		if dbErr := p.Engine.SetPreprocessFailure(job.ImageID, procErr); dbErr != nil {
			log.Printf("Worker %d: ERROR recording preprocess failure for image %d: %v", id, job.ImageID, dbErr)
		}
		return
	}

	err = p.Engine.SetPreprocessResult(job.ImageID, workflow.PreprocessResult{
		Keypoints:        result.Keypoints,
		Confidence:       result.Confidence,
		ProcessingTimeMS: result.ProcessingTimeMS,
		ModelVersion:     result.ModelVersion,
	})
	if err != nil {
		log.Printf("Worker %d: ERROR storing preprocess result for image %d: %v", id, job.ImageID, err)
	}
}
