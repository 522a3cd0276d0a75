package gather

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"jordanella.com/gather-bot/internal/march"
)

func TestRotationContinuesFromPersistedCursor(t *testing.T) {
	store := newMemSettings(7)
	r := NewRotation(7, march.DefaultResourceLoop, 6, store)

	assert.Equal(t, []march.ResourceType{march.ResourceStone, march.ResourceIron}, r.Peek(2))

	var got []march.ResourceType
	for i := 0; i < 5; i++ {
		res, err := r.Next()
		assert.NoError(t, err)
		got = append(got, res)
	}

	assert.Equal(t, []march.ResourceType{
		march.ResourceStone, march.ResourceIron, march.ResourceFood, march.ResourceWood, march.ResourceStone,
	}, got)
	assert.Equal(t, []int{7, 8, 9, 10, 11}, store.cursors)
	assert.Equal(t, 11, r.Cursor())
}

func TestRotationCustomLoop(t *testing.T) {
	r := NewRotation(1, []march.ResourceType{march.ResourceIron, march.ResourceFood}, 0, nil)

	first, _ := r.Next()
	second, _ := r.Next()
	third, _ := r.Next()
	assert.Equal(t, march.ResourceIron, first)
	assert.Equal(t, march.ResourceFood, second)
	assert.Equal(t, march.ResourceIron, third)
}

func TestRotationEmptyLoopUsesDefault(t *testing.T) {
	r := NewRotation(1, nil, -3, nil)
	res, _ := r.Next()
	assert.Equal(t, march.ResourceFood, res)
}

func TestStatusBoardCountdown(t *testing.T) {
	clock := &fixedClock{now: t0}
	b := NewStatusBoard(clock.Now)

	assert.Equal(t, "Stopped", b.Activity(3))

	b.SetCountdown(3, StateHibernating, "Hibernating, wakes in", t0.Add(90*time.Minute))
	assert.Equal(t, "Hibernating, wakes in 01:30:00", b.Activity(3))

	clock.Advance(61 * time.Second)
	b.Refresh()
	assert.Equal(t, "Hibernating, wakes in 01:28:59", b.Activity(3))

	clock.Advance(2 * time.Hour)
	b.Refresh()
	assert.Equal(t, "Hibernating, wakes in 00:00:00", b.Activity(3))

	b.Set(3, StatePollingQueues, "Reading march queues")
	b.Refresh()
	assert.Equal(t, "Reading march queues", b.Activity(3))
	assert.True(t, b.Get(3).State.Active())
}

func TestLayoutScalesReferencePoints(t *testing.T) {
	l := Layout{Width: 1080, Height: 1920}
	assert.Equal(t, image.Pt(975, 1830), l.Point(CoordWorldToggle))
	assert.Equal(t, image.Rect(165, 360, 840, 1440), l.Rect(RegionQueuePanel))

	assert.Equal(t, CoordSearch, ReferenceLayout().Point(CoordSearch))
	assert.Error(t, Layout{}.Validate())
}
