package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/paperbrush/mjrunner/lib/logger"
)

// Click looks up name in the button map, rescales the recorded point from
// the reference viewport to the runtime viewport and dispatches a synthetic
// left click there. A missing or zeroed entry is not an error: not every
// deployment calibrates every button, so the click is skipped and logged.
func (s *Session) Click(ctx context.Context, name string) error {
	log := logger.FromContext(ctx)

	p, ok := s.opts.Buttons.Buttons[name]
	if !ok || p.Zero() {
		log.Warn("button not calibrated, skipping click", "button", name)
		return nil
	}

	scaled := Scale(p, s.opts.Buttons.Reference, s.opts.Viewport)
	log.Debug("click", "button", name, "x", scaled.X, "y", scaled.Y)
	return s.clickAt(ctx, scaled)
}

func (s *Session) clickAt(ctx context.Context, p Point) error {
	page := s.page.Context(ctx)
	x, y := float64(p.X), float64(p.Y)

	if err := (proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseMoved,
		X:      x,
		Y:      y,
		Button: proto.InputMouseButtonLeft,
	}).Call(page); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	if err := (proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}).Call(page); err != nil {
		return fmt.Errorf("press mouse: %w", err)
	}
	if err := (proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}).Call(page); err != nil {
		return fmt.Errorf("release mouse: %w", err)
	}
	return nil
}

// Type clears the focused input and streams text one character at a time
// with the configured pacing. The caller must have clicked the input first;
// there is no element handle to verify focus against.
func (s *Session) Type(ctx context.Context, text string) error {
	page := s.page.Context(ctx)

	// select-all + backspace clears whatever the input held
	kb := page.Keyboard
	if err := kb.Press(input.ControlLeft); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := kb.Type(input.KeyA); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := kb.Release(input.ControlLeft); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := kb.Type(input.Backspace); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}

	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return fmt.Errorf("type text: %w", err)
		}
		if s.opts.TypeCharDelay > 0 {
			select {
			case <-time.After(s.opts.TypeCharDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// PressEnter submits the focused input.
func (s *Session) PressEnter(ctx context.Context) error {
	if err := s.page.Context(ctx).Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

// PressArrowRight advances a carousel/detail view by one image.
func (s *Session) PressArrowRight(ctx context.Context) error {
	if err := s.page.Context(ctx).Keyboard.Type(input.ArrowRight); err != nil {
		return fmt.Errorf("press arrow right: %w", err)
	}
	return nil
}
