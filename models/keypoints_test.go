package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeypointListByID(t *testing.T) {
	list := KeypointList{
		{ID: 0, Name: "nose", Visible: true},
		{ID: 2, Name: "right_eye"},
	}

	kp, ok := list.ByID(0)
	assert.True(t, ok)
	assert.Equal(t, "nose", kp.Name)

	_, ok = list.ByID(1)
	assert.False(t, ok)
}

func TestKeypointListVisibleCount(t *testing.T) {
	assert.Zero(t, KeypointList{}.VisibleCount())

	list := KeypointList{
		{ID: 0, Visible: true},
		{ID: 1, Visible: false},
		{ID: 2, Visible: true},
	}
	assert.Equal(t, 2, list.VisibleCount())
}
