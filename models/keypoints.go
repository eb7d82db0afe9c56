package models

// Keypoint is one detected or annotated landmark in image pixel coordinates.
// ID refers to a SchemaKeypoint id in the batch's schema.
type Keypoint struct {
	ID         int     `json:"id"`
	Name       string  `json:"name,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Visible    bool    `json:"visible"`
}

// KeypointList is the set of keypoints attached to one image, stored as JSON.
type KeypointList []Keypoint

// ByID returns the keypoint with the given schema keypoint id.
func (l KeypointList) ByID(id int) (Keypoint, bool) {
	for _, kp := range l {
		if kp.ID == id {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// VisibleCount returns how many keypoints are marked visible.
func (l KeypointList) VisibleCount() int {
	n := 0
	for _, kp := range l {
		if kp.Visible {
			n++
		}
	}
	return n
}
