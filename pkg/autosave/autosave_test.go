package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/apiflow/pkg/events"
	"github.com/dukex/apiflow/pkg/mocks"
	"github.com/dukex/apiflow/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedDoc struct {
	doc    models.WorkflowDocument
	silent bool
}

type fakeSaver struct {
	mu    sync.Mutex
	doc   models.WorkflowDocument
	err   error
	saves []savedDoc
	saved chan struct{}
}

func newFakeSaver(doc models.WorkflowDocument) *fakeSaver {
	return &fakeSaver{doc: doc, saved: make(chan struct{}, 16)}
}

func (f *fakeSaver) Payload() models.WorkflowDocument {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.doc
}

func (f *fakeSaver) Save(_ context.Context, doc models.WorkflowDocument, silent bool) error {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		f.saved <- struct{}{}
	}()

	if f.err != nil {
		return f.err
	}

	f.saves = append(f.saves, savedDoc{doc: doc, silent: silent})

	return nil
}

func (f *fakeSaver) Saves() []savedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]savedDoc(nil), f.saves...)
}

func (f *fakeSaver) waitSave(t *testing.T) {
	t.Helper()

	select {
	case <-f.saved:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for save")
	}
}

func skeleton() models.WorkflowDocument {
	return models.WorkflowDocument{
		Nodes: []models.DocumentNode{{NodeID: "start-1", Type: models.NodeTypeStart}},
		Edges: []models.DocumentEdge{},
	}
}

func smallWorkflow() models.WorkflowDocument {
	return models.WorkflowDocument{
		Nodes: []models.DocumentNode{
			{NodeID: "start-1", Type: models.NodeTypeStart},
			{NodeID: "call", Type: models.NodeTypeHTTPRequest},
		},
		Edges: []models.DocumentEdge{{EdgeID: "e1", Source: "start-1", Target: "call"}},
	}
}

func newHydrated(t *testing.T, saver Saver, opts ...Option) (*Controller, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	controller := New("wf-1", saver, append([]Option{WithClock(clock)}, opts...)...)
	controller.MarkHydrated()
	t.Cleanup(controller.Close)

	return controller, clock
}

func TestCheckDestructiveSave(t *testing.T) {
	testCases := []struct {
		name     string
		baseline models.AutoSaveBaseline
		doc      models.WorkflowDocument
		blocked  bool
	}{
		{
			name:     "large baseline replaced by skeleton",
			baseline: models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13},
			doc:      skeleton(),
			blocked:  true,
		},
		{
			name:     "skeleton baseline",
			baseline: models.AutoSaveBaseline{NodeCount: 1, EdgeCount: 0},
			doc:      skeleton(),
			blocked:  false,
		},
		{
			name:     "empty baseline",
			baseline: models.AutoSaveBaseline{},
			doc:      skeleton(),
			blocked:  false,
		},
		{
			name:     "two nodes without edges",
			baseline: models.AutoSaveBaseline{NodeCount: 2},
			doc:      skeleton(),
			blocked:  true,
		},
		{
			name:     "single node with an edge",
			baseline: models.AutoSaveBaseline{NodeCount: 1, EdgeCount: 1},
			doc:      skeleton(),
			blocked:  true,
		},
		{
			name:     "real graph over large baseline",
			baseline: models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13},
			doc:      smallWorkflow(),
			blocked:  false,
		},
		{
			name:     "single non-start node",
			baseline: models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13},
			doc: models.WorkflowDocument{
				Nodes: []models.DocumentNode{{NodeID: "call", Type: models.NodeTypeHTTPRequest}},
			},
			blocked: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.blocked, CheckDestructiveSave(tc.baseline, tc.doc))
		})
	}
}

func TestNotifyChange_IgnoredBeforeHydration(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	clock := clockwork.NewFakeClock()
	controller := New("wf-1", saver, WithClock(clock))
	defer controller.Close()

	controller.NotifyChange()

	assert.False(t, controller.Dirty())
	assert.False(t, controller.Pending())

	clock.Advance(time.Second)
	assert.Empty(t, saver.Saves())
}

func TestNotifyChange_TrailingDebounce(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	controller, clock := newHydrated(t, saver)

	controller.NotifyChange()
	assert.True(t, controller.Dirty())
	assert.True(t, controller.Pending())

	clock.Advance(DefaultDelay - time.Millisecond)
	assert.Empty(t, saver.Saves())

	controller.NotifyChange()
	clock.Advance(DefaultDelay - time.Millisecond)
	assert.Empty(t, saver.Saves(), "a new change restarts the timer")

	clock.Advance(time.Millisecond)
	saver.waitSave(t)

	saves := saver.Saves()
	require.Len(t, saves, 1)
	assert.True(t, saves[0].silent)
	assert.Equal(t, smallWorkflow(), saves[0].doc)
	assert.Eventually(t, func() bool { return !controller.Dirty() }, time.Second, 5*time.Millisecond)
	assert.False(t, controller.Pending())
}

func TestNotifyChange_DirtyListener(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	controller, _ := newHydrated(t, saver)

	var (
		mu    sync.Mutex
		flips []bool
	)
	controller.Subscribe(func(dirty bool) {
		mu.Lock()
		defer mu.Unlock()

		flips = append(flips, dirty)
	})

	controller.NotifyChange()
	controller.NotifyChange()
	require.NoError(t, controller.FlushNow(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, flips)
}

func TestNotifyChange_Disabled(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	controller, clock := newHydrated(t, saver, WithEnabled(false))

	controller.NotifyChange()

	assert.True(t, controller.Dirty())
	assert.False(t, controller.Pending())

	clock.Advance(time.Second)
	assert.Empty(t, saver.Saves())

	controller.SetEnabled(true)
	assert.True(t, controller.Pending(), "enabling with unsaved changes arms the timer")

	clock.Advance(DefaultDelay)
	saver.waitSave(t)
	assert.Len(t, saver.Saves(), 1)
}

func TestSetEnabled_FalseCancelsTimer(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	controller, clock := newHydrated(t, saver)

	controller.NotifyChange()
	controller.SetEnabled(false)

	assert.False(t, controller.Pending())
	clock.Advance(time.Second)
	assert.Empty(t, saver.Saves())
	assert.True(t, controller.Dirty())
}

func TestTimer_BlocksDestructiveSave(t *testing.T) {
	saver := newFakeSaver(skeleton())
	publisher := &mocks.RecordingPublisher{}
	controller, clock := newHydrated(t, saver, WithPublisher(publisher))
	controller.SetBaseline(models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13})

	controller.NotifyChange()
	clock.Advance(DefaultDelay)

	assert.Eventually(t, func() bool { return controller.BlockedSaves() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, saver.Saves())
	assert.True(t, controller.Dirty())

	recorded := publisher.Events()
	require.Len(t, recorded, 1)
	blocked, ok := recorded[0].(events.WorkflowSaveBlocked)
	require.True(t, ok)
	assert.Equal(t, models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13}, blocked.Baseline)
	assert.Equal(t, 1, blocked.NodeCount)
	assert.Equal(t, 0, blocked.EdgeCount)
}

func TestFlushNow(t *testing.T) {
	t.Run("saves immediately and cancels the timer", func(t *testing.T) {
		saver := newFakeSaver(smallWorkflow())
		publisher := &mocks.RecordingPublisher{}
		controller, clock := newHydrated(t, saver, WithPublisher(publisher))

		controller.NotifyChange()
		require.NoError(t, controller.FlushNow(context.Background()))

		assert.False(t, controller.Pending())
		assert.False(t, controller.Dirty())

		clock.Advance(time.Second)
		saves := saver.Saves()
		require.Len(t, saves, 1)
		assert.False(t, saves[0].silent)
		assert.Equal(t, []events.EventType{events.WorkflowSavedEvent}, publisher.Types())
	})

	t.Run("destructive save", func(t *testing.T) {
		saver := newFakeSaver(skeleton())
		controller, _ := newHydrated(t, saver)
		controller.SetBaseline(models.AutoSaveBaseline{NodeCount: 14, EdgeCount: 13})

		err := controller.FlushNow(context.Background())

		require.ErrorIs(t, err, ErrDestructiveSave)
		assert.Equal(t, 1, controller.BlockedSaves())
		assert.Empty(t, saver.Saves())
	})

	t.Run("skeleton over skeleton", func(t *testing.T) {
		saver := newFakeSaver(skeleton())
		controller, _ := newHydrated(t, saver)
		controller.SetBaseline(models.AutoSaveBaseline{NodeCount: 1, EdgeCount: 0})

		require.NoError(t, controller.FlushNow(context.Background()))
		assert.Equal(t, 0, controller.BlockedSaves())
		assert.Len(t, saver.Saves(), 1)
	})

	t.Run("save failure keeps dirty", func(t *testing.T) {
		saver := newFakeSaver(smallWorkflow())
		saver.err = errors.New("service unavailable")
		controller, _ := newHydrated(t, saver)

		controller.NotifyChange()
		err := controller.FlushNow(context.Background())

		require.EqualError(t, err, "service unavailable")
		assert.True(t, controller.Dirty())
	})
}

func TestFlushNow_BeforeHydration(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	controller := New("wf-1", saver, WithClock(clockwork.NewFakeClock()))
	t.Cleanup(controller.Close)

	require.ErrorIs(t, controller.FlushNow(context.Background()), ErrNotHydrated)
	assert.Empty(t, saver.Saves())

	controller.MarkHydrated()
	require.NoError(t, controller.FlushNow(context.Background()))
	assert.Len(t, saver.Saves(), 1)
}

func TestClose(t *testing.T) {
	saver := newFakeSaver(smallWorkflow())
	clock := clockwork.NewFakeClock()
	controller := New("wf-1", saver, WithClock(clock))
	controller.MarkHydrated()

	controller.NotifyChange()
	controller.Close()

	assert.False(t, controller.Pending())
	clock.Advance(time.Second)
	assert.Empty(t, saver.Saves())

	controller.NotifyChange()
	assert.False(t, controller.Pending())
	assert.ErrorIs(t, controller.FlushNow(context.Background()), ErrClosed)
}
