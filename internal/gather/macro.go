package gather

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"jordanella.com/gather-bot/internal/cv"
	"jordanella.com/gather-bot/internal/logging"
	"jordanella.com/gather-bot/internal/march"
	"jordanella.com/gather-bot/internal/ocr"
)

// Template names the macro looks for
const (
	TmplWorldIndicator   = "world_indicator"
	TmplQueuePanelButton = "queue_panel_button"
	TmplQueuePanelHeader = "queue_panel_header"
	TmplSearchButton     = "search_button"
	TmplPopupClose       = "popup_close"
	TmplSearchGo         = "search_go"
	TmplGatherButton     = "gather_button"
	TmplDeployButton     = "deploy_button"
	TmplConfirmButton    = "confirm_button"
	tmplResourcePrefix   = "resource_"
)

// Deploy macro steps, in order
const (
	StepWorldView      = "ensure_world_view"
	StepOpenSearch     = "open_search"
	StepDismissPopup   = "dismiss_popup"
	StepScrollList     = "scroll_resources"
	StepSelectResource = "select_resource"
	StepMaxSlider      = "max_slider"
	StepSearchLevel    = "search_level"
	StepReadMarchTime  = "read_march_time"
	StepDeploy         = "deploy"
	StepRegister       = "register"
)

const (
	// MaxResourceLevel is where the level search starts
	MaxResourceLevel = 8

	defaultStrictThreshold = 0.8
	looseThresholdDrop     = 0.2
	minLooseThreshold      = 0.4

	swipeDuration       = 400 * time.Millisecond
	maxConfirmPrompts   = 2
	selectResourceTries = 2
)

// ResourceTemplate returns the icon template name of a resource
func ResourceTemplate(r march.ResourceType) string {
	return tmplResourcePrefix + strings.ToLower(string(r))
}

// attempt carries the state of one deployment through the steps
type attempt struct {
	slot      int
	resource  march.ResourceType
	first     bool
	level     int
	marchTime time.Duration
	estimated bool
	committed bool // deploy was tapped; the rest must finish
	record    march.Record
}

// macro drives the deploy sequence for one instance. It is only ever used
// from that instance's worker.
type macro struct {
	instanceID int
	io         *deviceIO
	finder     Finder
	reader     TextReader
	timings    Timings
	tracker    *march.Tracker
	sleep      Sleeper
	log        *logging.Logger
	touch      func(step string)
}

// find tries the template's own threshold, then a looser one
func (m *macro) find(frame *image.RGBA, name string) cv.PerceptionResult {
	strict := m.finder.Threshold(name, defaultStrictThreshold)
	if res := m.finder.Find(frame, name, strict); res.IsFound() {
		return res
	}
	loose := strict - looseThresholdDrop
	if loose < minLooseThreshold {
		loose = minLooseThreshold
	}
	if loose >= strict {
		return cv.NotFound(0)
	}
	return m.finder.Find(frame, name, loose)
}

// findStrict uses only the template's own threshold, for checks where a
// false positive is worse than a miss
func (m *macro) findStrict(frame *image.RGBA, name string) cv.PerceptionResult {
	return m.finder.Find(frame, name, m.finder.Threshold(name, defaultStrictThreshold))
}

func (m *macro) pause(ctx context.Context, d time.Duration) error {
	return m.sleep(ctx, d)
}

// deploy runs the full macro for one slot. Any step failure aborts only this
// march and comes back as a *StepError.
func (m *macro) deploy(ctx context.Context, slot int, resource march.ResourceType, first bool) (march.Record, error) {
	a := &attempt{slot: slot, resource: resource, first: first}

	steps := []struct {
		name string
		run  func(context.Context, *attempt) error
	}{
		{StepWorldView, m.stepWorldView},
		{StepOpenSearch, m.stepOpenSearch},
		{StepDismissPopup, m.stepDismissPopup},
		{StepScrollList, m.stepScrollList},
		{StepSelectResource, m.stepSelectResource},
		{StepMaxSlider, m.stepMaxSlider},
		{StepSearchLevel, m.stepSearchLevel},
		{StepReadMarchTime, m.stepReadMarchTime},
		{StepDeploy, m.stepDeploy},
		{StepRegister, m.stepRegister},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil && !a.committed {
			return march.Record{}, &StepError{Step: step.name, Slot: slot, Resource: string(resource), Err: err}
		}
		if m.touch != nil {
			m.touch(step.name)
		}
		m.log.Debug(fmt.Sprintf("Slot %d: %s", slot, step.name))
		if err := step.run(ctx, a); err != nil {
			return march.Record{}, &StepError{Step: step.name, Slot: slot, Resource: string(resource), Err: err}
		}
	}
	return a.record, nil
}

// ensureWorldView checks for the world indicator. The fast path is a single
// check; on a miss, or when full is set, the bounded verification loop runs
// and tries to navigate back.
func (m *macro) ensureWorldView(ctx context.Context, full bool) error {
	if !full {
		res, err := m.io.locate(ctx, TmplWorldIndicator, m.finder.Threshold(TmplWorldIndicator, defaultStrictThreshold))
		if err != nil {
			return err
		}
		if res.IsFound() {
			return nil
		}
		m.log.Debug("World view fast check missed, running full verification")
	}

	checks := m.timings.WorldViewChecks
	if checks < 1 {
		checks = 1
	}
	for i := 1; i <= checks; i++ {
		frame, err := m.io.capture(ctx)
		if err != nil {
			return err
		}
		if m.find(frame, TmplWorldIndicator).IsFound() {
			return nil
		}

		// a popup covers the indicator more often than we are in the city
		if popup := m.findStrict(frame, TmplPopupClose); popup.IsFound() {
			p, _ := popup.Point()
			err = m.io.tapScreen(ctx, p)
		} else {
			err = m.io.tap(ctx, CoordWorldToggle)
		}
		if err != nil {
			return err
		}
		if err := m.pause(ctx, m.timings.WorldViewPoll); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d checks", ErrNotInWorldView, checks)
}

func (m *macro) stepWorldView(ctx context.Context, a *attempt) error {
	return m.ensureWorldView(ctx, a.first)
}

func (m *macro) stepOpenSearch(ctx context.Context, a *attempt) error {
	frame, err := m.io.capture(ctx)
	if err != nil {
		return err
	}
	if err := m.io.tapResult(ctx, m.find(frame, TmplSearchButton), CoordSearch); err != nil {
		return err
	}
	return m.pause(ctx, m.timings.SearchOpen)
}

// stepDismissPopup closes a popup if one opened over the search panel
func (m *macro) stepDismissPopup(ctx context.Context, a *attempt) error {
	frame, err := m.io.capture(ctx)
	if err != nil {
		return err
	}
	p, ok := m.findStrict(frame, TmplPopupClose).Point()
	if !ok {
		return nil
	}
	if err := m.io.tapScreen(ctx, p); err != nil {
		return err
	}
	return m.pause(ctx, m.timings.TapSettle)
}

func (m *macro) scroll(ctx context.Context) error {
	if err := m.io.swipe(ctx, CoordListSwipeFrom, CoordListSwipeTo, swipeDuration); err != nil {
		return err
	}
	return m.pause(ctx, m.timings.Scroll)
}

func (m *macro) stepScrollList(ctx context.Context, a *attempt) error {
	return m.scroll(ctx)
}

func (m *macro) stepSelectResource(ctx context.Context, a *attempt) error {
	name := ResourceTemplate(a.resource)
	for try := 1; try <= selectResourceTries; try++ {
		frame, err := m.io.capture(ctx)
		if err != nil {
			return err
		}
		if p, ok := m.find(frame, name).Point(); ok {
			if err := m.io.tapScreen(ctx, p); err != nil {
				return err
			}
			return m.pause(ctx, m.timings.TapSettle)
		}
		if try < selectResourceTries {
			if err := m.scroll(ctx); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("resource icon %s not found", name)
}

func (m *macro) stepMaxSlider(ctx context.Context, a *attempt) error {
	for i := 0; i < m.timings.SliderTaps; i++ {
		if err := m.io.tap(ctx, CoordSliderPlus); err != nil {
			return err
		}
	}
	return m.pause(ctx, m.timings.TapSettle)
}

// stepSearchLevel raises the level to the maximum, then searches and steps
// down one level at a time until a gather button shows up.
func (m *macro) stepSearchLevel(ctx context.Context, a *attempt) error {
	for i := 1; i < MaxResourceLevel; i++ {
		if err := m.io.tap(ctx, CoordLevelPlus); err != nil {
			return err
		}
	}

	for level := MaxResourceLevel; level >= 1; level-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if level < MaxResourceLevel {
			if err := m.io.tap(ctx, CoordLevelMinus); err != nil {
				return err
			}
		}

		frame, err := m.io.capture(ctx)
		if err != nil {
			return err
		}
		if err := m.io.tapResult(ctx, m.find(frame, TmplSearchGo), CoordSearchGo); err != nil {
			return err
		}
		if err := m.pause(ctx, m.timings.SearchResult); err != nil {
			return err
		}

		frame, err = m.io.capture(ctx)
		if err != nil {
			return err
		}
		if p, ok := m.find(frame, TmplGatherButton).Point(); ok {
			a.level = level
			if err := m.io.tapScreen(ctx, p); err != nil {
				return err
			}
			return m.pause(ctx, m.timings.TapSettle)
		}
		m.log.Debug(fmt.Sprintf("No %s node at level %d", a.resource, level))
	}
	return ErrNoResourceNode
}

// stepReadMarchTime reads the one-way march time off the deploy screen,
// falling back to the configured estimate
func (m *macro) stepReadMarchTime(ctx context.Context, a *attempt) error {
	frame, err := m.io.capture(ctx)
	if err != nil {
		return err
	}

	text := m.reader.Extract(ctx, m.io.crop(frame, RegionMarchTime), ocr.TimeProfile())
	d, ok := m.plausibleMarchTime(text)
	if !ok {
		a.marchTime = m.timings.MarchEstimate
		a.estimated = true
		m.log.WarnWithContext("March time unreadable, using estimate", map[string]interface{}{
			"slot":     a.slot,
			"ocr":      text,
			"estimate": m.timings.MarchEstimate.String(),
		})
		return nil
	}
	a.marchTime = d
	return nil
}

func (m *macro) plausibleMarchTime(text string) (time.Duration, bool) {
	found := ocr.FindTime(text)
	if found == "" {
		return 0, false
	}
	d, err := march.ParseDuration(found)
	if err != nil || d <= 0 {
		return 0, false
	}
	if m.timings.MaxMarchTime > 0 && d > m.timings.MaxMarchTime {
		return 0, false
	}
	return d, true
}

func (m *macro) stepDeploy(ctx context.Context, a *attempt) error {
	frame, err := m.io.capture(ctx)
	if err != nil {
		return err
	}
	if err := m.io.tapResult(ctx, m.find(frame, TmplDeployButton), CoordDeploy); err != nil {
		return err
	}

	// the march is on its way; a stop request must not lose it
	a.committed = true
	ctx = context.WithoutCancel(ctx)

	if err := m.pause(ctx, m.timings.TapSettle); err != nil {
		return err
	}

	for i := 0; i < maxConfirmPrompts; i++ {
		frame, err := m.io.capture(ctx)
		if err != nil {
			return err
		}
		p, ok := m.findStrict(frame, TmplConfirmButton).Point()
		if !ok {
			break
		}
		if err := m.io.tapScreen(ctx, p); err != nil {
			return err
		}
		if err := m.pause(ctx, m.timings.TapSettle); err != nil {
			return err
		}
	}
	return m.pause(ctx, m.timings.DeploySettle)
}

func (m *macro) stepRegister(ctx context.Context, a *attempt) error {
	r := march.NewRecord(m.instanceID, a.slot, a.resource, m.tracker.Now(), a.marchTime, m.timings.GatherEstimate)
	r.Level = a.level
	a.record = m.tracker.Register(r)

	m.log.InfoWithContext("March deployed", map[string]interface{}{
		"slot":      a.slot,
		"resource":  string(a.resource),
		"level":     a.level,
		"march":     march.FormatDuration(a.marchTime),
		"estimated": a.estimated,
	})
	return nil
}
