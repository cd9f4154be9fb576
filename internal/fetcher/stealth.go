package fetcher

import (
	"fmt"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// StealthConfig describes the desktop browser the page pretends to be.
type StealthConfig struct {
	ViewportWidth  int
	ViewportHeight int

	// WindowSize is passed to the browser launcher, e.g. "1920,1080".
	WindowSize string

	Locale   string
	Timezone string
}

// DefaultStealthConfig picks a common desktop viewport and a Danish locale.
func DefaultStealthConfig() *StealthConfig {
	viewports := []struct{ w, h int }{
		{1920, 1080}, {1366, 768}, {1536, 864},
		{1440, 900}, {1280, 720},
	}
	vp := viewports[rand.Intn(len(viewports))]

	return &StealthConfig{
		ViewportWidth:  vp.w,
		ViewportHeight: vp.h,
		WindowSize:     fmt.Sprintf("%d,%d", vp.w, vp.h),
		Locale:         "da-DK",
		Timezone:       "Europe/Copenhagen",
	}
}

// Apply sets the viewport, locale and timezone overrides on page.
func (sc *StealthConfig) Apply(page *rod.Page) error {
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             sc.ViewportWidth,
		Height:            sc.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if sc.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: sc.Locale}).Call(page); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
	}
	if sc.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: sc.Timezone}).Call(page); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}
	return nil
}
