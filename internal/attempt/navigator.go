package attempt

import "github.com/stemsi/exstem-attempt/internal/model"

// Navigator maps the flat question list to pages.
type Navigator struct {
	questions []model.Question
	pageSize  int
	page      int
}

// NewNavigator positions a navigator on page, clamped to the valid range.
func NewNavigator(questions []model.Question, pageSize, page int) *Navigator {
	if pageSize < 1 {
		pageSize = 1
	}
	n := &Navigator{questions: questions, pageSize: pageSize}
	n.page = n.clamp(page)
	return n
}

// PageCount is ceil(total / pageSize).
func (n *Navigator) PageCount() int {
	return (len(n.questions) + n.pageSize - 1) / n.pageSize
}

func (n *Navigator) clamp(page int) int {
	last := max(1, n.PageCount())
	return min(max(page, 1), last)
}

// GoTo moves to page (clamped) and reports whether the page changed.
func (n *Navigator) GoTo(page int) bool {
	page = n.clamp(page)
	changed := page != n.page
	n.page = page
	return changed
}

func (n *Navigator) Next() bool  { return n.GoTo(n.page + 1) }
func (n *Navigator) Prev() bool  { return n.GoTo(n.page - 1) }
func (n *Navigator) First() bool { return n.GoTo(1) }
func (n *Navigator) Last() bool  { return n.GoTo(n.PageCount()) }

func (n *Navigator) Page() int     { return n.page }
func (n *Navigator) PageSize() int { return n.pageSize }

// Bounds returns the half-open index range of the current page.
func (n *Navigator) Bounds() (start, end int) {
	start = min((n.page-1)*n.pageSize, len(n.questions))
	end = min(start+n.pageSize, len(n.questions))
	return start, end
}

// CurrentQuestions is a view into the question list, not a copy.
func (n *Navigator) CurrentQuestions() []model.Question {
	start, end := n.Bounds()
	return n.questions[start:end:end]
}

// Questions returns the full ordered list.
func (n *Navigator) Questions() []model.Question { return n.questions }

// Total is the number of questions.
func (n *Navigator) Total() int { return len(n.questions) }

// Position returns the 1-based position of a question id, or 0.
func (n *Navigator) Position(questionID string) int {
	for i, q := range n.questions {
		if q.ID == questionID {
			return i + 1
		}
	}
	return 0
}

// PageOf returns the page that holds the 1-based position.
func (n *Navigator) PageOf(position int) int {
	if position < 1 {
		return 1
	}
	return (position-1)/n.pageSize + 1
}
