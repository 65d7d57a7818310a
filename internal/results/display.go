package results

import (
	"html/template"
	"sync"

	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
)

// Kind is one of the three shapes the result panel can take.
type Kind string

const (
	// KindNone renders nothing at all.
	KindNone Kind = "none"
	// KindBusy renders only the busy indicator.
	KindBusy Kind = "busy"
	// KindPanels renders the Timeline and Summary panels with the chat widget beneath them.
	KindPanels Kind = "panels"
)

// View is what the result panel should show.
type View struct {
	Kind     Kind
	Timeline template.HTML
	Summary  template.HTML
}

// Markdown converts Markdown text into HTML.
type Markdown interface {
	MustRender(source string) template.HTML
}

// Scroller brings the result panel into view.
type Scroller interface {
	ScrollIntoView()
}

// ScrollerFunc adapts a function to Scroller.
type ScrollerFunc func()

// ScrollIntoView calls f.
func (f ScrollerFunc) ScrollIntoView() { f() }

// Display turns the job state into a View for one viewer. It remembers whether that viewer has
// already seen a result, so the panel is scrolled into view exactly once each time a result
// appears.
type Display struct {
	md       Markdown
	scroller Scroller

	mu        sync.Mutex
	hadResult bool
}

// NewDisplay creates a Display that renders Markdown with md and scrolls with scroller. A nil
// scroller disables scrolling.
func NewDisplay(md Markdown, scroller Scroller) *Display {
	return &Display{md: md, scroller: scroller}
}

// Render picks the view for the given state:
//   - not loading renders nothing, whatever the result;
//   - loading without a result renders the busy indicator;
//   - loading with a result renders both panels.
//
// The scroller is called when result goes from absent to present between two calls.
func (d *Display) Render(isLoading bool, result *models.Result) View {
	d.mu.Lock()
	appeared := result != nil && !d.hadResult
	d.hadResult = result != nil
	d.mu.Unlock()

	if appeared && isLoading && d.scroller != nil {
		d.scroller.ScrollIntoView()
	}

	switch {
	case !isLoading:
		return View{Kind: KindNone}
	case result == nil:
		return View{Kind: KindBusy}
	default:
		return View{
			Kind:     KindPanels,
			Timeline: d.md.MustRender(result.Timeline),
			Summary:  d.md.MustRender(result.Summary),
		}
	}
}

// RenderSnapshot is Render for a Snapshot.
func (d *Display) RenderSnapshot(s Snapshot) View {
	return d.Render(s.Loading, s.Result)
}
