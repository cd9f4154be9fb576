package fetcher

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	tabSelectors        = ".nav-tabs a, [role=tab], .tabs a, .tab"
	structuralSelectors = "table tr, .match, [class*=kamp]"
	maxTabClicks        = 5
	maxScrolls          = 3
)

// TriggerRevealInteractions clicks tabs, picks select options matching the
// hints and scrolls, stopping as soon as the page gains structural
// elements. Dialogs are dismissed around every step.
func (bn *BrowserNavigator) TriggerRevealInteractions(ctx context.Context, hints RevealHints) bool {
	p := bn.page.Context(ctx).Timeout(bn.cfg.ReadyTimeout)
	defer p.CancelTimeout()

	before := bn.countStructural(p)
	steps := []struct {
		name string
		run  func(*rod.Page) error
	}{
		{"tabs", bn.clickTabs},
		{"selects", func(p *rod.Page) error { return bn.pickOptions(p, hints.Terms) }},
		{"scroll", bn.scrollForContent},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return false
		}
		bn.DismissBlockingDialogs()
		if err := step.run(p); err != nil {
			bn.logger.Debug("reveal step failed", "step", step.name, "error", err)
		}
		if d := bn.DismissBlockingDialogs(); d.Dismissed {
			bn.logger.Info("dialog dismissed during reveal", "step", step.name, "message", d.Message)
		}
		if after := bn.countStructural(p); after > before {
			bn.logger.Debug("content revealed", "step", step.name, "before", before, "after", after)
			return true
		}
	}
	return false
}

func (bn *BrowserNavigator) countStructural(p *rod.Page) int {
	res, err := p.Eval(`(sel) => document.querySelectorAll(sel).length`, structuralSelectors)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// clickTabs clicks the visible tab-like elements.
func (bn *BrowserNavigator) clickTabs(p *rod.Page) error {
	tabs, err := p.Elements(tabSelectors)
	if err != nil {
		return err
	}
	for i, el := range tabs {
		if i >= maxTabClicks {
			break
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		_ = p.WaitStable(bn.cfg.SettleDelay)
	}
	return nil
}

// pickOptions selects the first option whose text contains a hint in every
// select on the page.
func (bn *BrowserNavigator) pickOptions(p *rod.Page, terms []string) error {
	if len(terms) == 0 {
		return nil
	}
	selects, err := p.Elements("select")
	if err != nil {
		return err
	}
	for _, el := range selects {
		for _, term := range terms {
			if term == "" {
				continue
			}
			if err := el.Select([]string{term}, true, rod.SelectorTypeText); err == nil {
				_ = p.WaitStable(bn.cfg.SettleDelay)
				break
			}
		}
	}
	return nil
}

// scrollForContent scrolls until the page height stops growing.
func (bn *BrowserNavigator) scrollForContent(p *rod.Page) error {
	lastHeight := 0
	for i := 0; i < maxScrolls; i++ {
		res, err := p.Eval(`() => document.body.scrollHeight`)
		if err != nil {
			return err
		}
		height := res.Value.Int()
		if height == lastHeight {
			return nil
		}
		lastHeight = height

		if _, err := p.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return err
		}
		select {
		case <-p.GetContext().Done():
			return p.GetContext().Err()
		case <-time.After(bn.cfg.SettleDelay):
		}
	}
	return nil
}
