package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// optionGroupsJS discovers selectable controls: native dropdowns, radio
// sets grouped by name, and swatch-style buttons grouped by container.
// Each entry carries a selector stable enough to click or set later.
const optionGroupsJS = `(() => {
	const path = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let cur = el;
		while (cur && cur.nodeType === 1 && parts.length < 6) {
			let part = cur.tagName.toLowerCase();
			if (cur.id) { parts.unshift(part + '#' + CSS.escape(cur.id)); break; }
			const parent = cur.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(cur) + 1) + ')';
			}
			parts.unshift(part);
			cur = parent;
		}
		return parts.join(' > ');
	};

	const groups = [];

	document.querySelectorAll('select').forEach(sel => {
		const options = Array.from(sel.options)
			.filter(o => !o.disabled && o.value !== '')
			.map(o => ({label: (o.textContent || '').trim(), value: o.value, selector: ''}));
		if (options.length) groups.push({kind: 'select', selector: path(sel), options});
	});

	const radios = {};
	document.querySelectorAll('input[type=radio]').forEach(r => {
		const name = r.name || 'unnamed';
		if (!radios[name]) radios[name] = {kind: 'radio', selector: '', options: []};
		let label = '';
		if (r.id) {
			const l = document.querySelector('label[for="' + CSS.escape(r.id) + '"]');
			if (l) label = (l.textContent || '').trim();
		}
		if (!label) {
			const wrap = r.closest('label');
			if (wrap) label = (wrap.textContent || '').trim();
		}
		if (!label) label = r.value;
		radios[name].options.push({label, value: r.value, selector: path(r)});
	});
	Object.values(radios).forEach(g => { if (g.options.length) groups.push(g); });

	const swatchContainers = new Map();
	document.querySelectorAll('button[data-value], button[data-variant], [data-option-value]').forEach(b => {
		const container = b.closest('fieldset, [class*="option"], [class*="variant"], [class*="swatch"]') || b.parentElement;
		const key = path(container);
		if (!swatchContainers.has(key)) swatchContainers.set(key, {kind: 'swatch', selector: key, options: []});
		const label = (b.textContent || b.getAttribute('data-value') || b.getAttribute('data-option-value') || '').trim();
		const value = b.getAttribute('data-value') || b.getAttribute('data-variant') || b.getAttribute('data-option-value') || label;
		if (label || value) swatchContainers.get(key).options.push({label, value, selector: path(b)});
	});
	swatchContainers.forEach(g => { if (g.options.length) groups.push(g); });

	return groups;
})()`

// priceRegionJS reads the price-bearing region of the page: every element
// whose class/id/itemprop marks it as a price, falling back to the first
// 2KB of body text when none exist.
const priceRegionJS = `(() => {
	const nodes = document.querySelectorAll('[class*="price" i], [id*="price" i], [itemprop="price"], [data-price]');
	const parts = [];
	nodes.forEach(n => {
		const t = (n.textContent || '').trim();
		if (t) parts.push(t);
	});
	if (parts.length) return parts.join(' | ').slice(0, 2000);
	return (document.body && document.body.innerText || '').slice(0, 2000);
})()`

// chromeSession is the chromedp-backed Session. One session holds one tab;
// closing cancels the whole browser context.
type chromeSession struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

// NewSessionFactory opens an isolated headless Chrome per invocation,
// derived from the caller's context so a per-item timeout forcibly tears
// the session down.
func NewSessionFactory(userAgent string) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(userAgent),
			chromedp.WindowSize(1920, 1080),
		)
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		taskCtx, cancelTask := chromedp.NewContext(allocCtx)

		return &chromeSession{
			ctx:     taskCtx,
			cancels: []context.CancelFunc{cancelTask, cancelAlloc},
		}, nil
	}
}

// run executes actions on the session's chromedp context, honoring any
// deadline carried by the caller's context.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) OptionGroups(ctx context.Context) ([]OptionGroup, error) {
	var groups []OptionGroup
	if err := s.run(ctx, chromedp.Evaluate(optionGroupsJS, &groups)); err != nil {
		return nil, fmt.Errorf("option discovery: %w", err)
	}
	return groups, nil
}

func (s *chromeSession) Apply(ctx context.Context, choice Choice) error {
	switch choice.Group.Kind {
	case KindSelect:
		js := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.value = %q;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		})()`, choice.Group.Selector, choice.Option.Value)
		var ok bool
		if err := s.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
			return fmt.Errorf("selecting dropdown option %q: %w", choice.Option.Label, err)
		}
		if !ok {
			return fmt.Errorf("dropdown %q disappeared before selection", choice.Group.Selector)
		}
		return nil
	default:
		if err := s.run(ctx, chromedp.Click(choice.Option.Selector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("clicking option %q: %w", choice.Option.Label, err)
		}
		return nil
	}
}

func (s *chromeSession) PriceRegionText(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(priceRegionJS, &text)); err != nil {
		return "", err
	}
	return text, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

// Renderer is the fetch-tier adapter: load a page in a throwaway session
// and return the rendered DOM without touching any controls.
type Renderer struct {
	factory SessionFactory
	timeout time.Duration
}

func NewRenderer(userAgent string, timeout time.Duration) *Renderer {
	return &Renderer{factory: NewSessionFactory(userAgent), timeout: timeout}
}

func (r *Renderer) Snapshot(ctx context.Context, url string) (string, error) {
	session, err := r.factory(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := session.Navigate(loadCtx, url); err != nil {
		return "", fmt.Errorf("rendered snapshot of %s: %w", url, err)
	}
	return session.HTML(ctx)
}
