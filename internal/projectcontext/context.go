package projectcontext

import (
	"strings"
	"time"
)

// Section is one "## " heading of a markdown document with its body.
type Section struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Document struct {
	// Name identifies the document in task inputs, e.g. "SPEC" or
	// "deliverables/API".
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Required bool      `json:"required"`
	Title    string    `json:"title,omitempty"`
	Content  string    `json:"-"`
	Sections []Section `json:"sections,omitempty"`
}

// ProjectContext is the read-only documentation snapshot shared by every
// agent call of a run. Nothing mutates it after Load returns.
type ProjectContext struct {
	Root      string     `json:"root"`
	Documents []Document `json:"documents"`
	LoadedAt  time.Time  `json:"loaded_at"`
	// Checksum changes whenever any document's content changes.
	Checksum string `json:"checksum"`
}

func (c *ProjectContext) Document(name string) (*Document, bool) {
	for i := range c.Documents {
		if strings.EqualFold(c.Documents[i].Name, name) {
			return &c.Documents[i], true
		}
	}
	return nil, false
}

func (c *ProjectContext) Deliverables() []Document {
	var out []Document
	for _, d := range c.Documents {
		if strings.HasPrefix(d.Name, deliverablePrefix) {
			out = append(out, d)
		}
	}
	return out
}

// Render concatenates the documents in load order, each under a level one
// heading naming its source, for inclusion in an agent prompt. With names,
// only the listed documents are included.
func (c *ProjectContext) Render(names ...string) string {
	var sb strings.Builder
	for _, d := range c.Documents {
		if len(names) > 0 && !containsFold(names, d.Name) {
			continue
		}
		sb.WriteString("# ")
		sb.WriteString(d.Name)
		sb.WriteString(" (")
		sb.WriteString(d.Path)
		sb.WriteString(")\n\n")
		sb.WriteString(strings.TrimSpace(d.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// parseSections splits markdown on level two headings. The first level one
// heading, if any, becomes the title.
func parseSections(content string) (string, []Section) {
	var (
		title    string
		sections []Section
		cur      *Section
		body     strings.Builder
	)
	flush := func() {
		if cur != nil {
			cur.Body = strings.TrimSpace(body.String())
			sections = append(sections, *cur)
		}
		body.Reset()
	}
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		switch {
		case !inFence && title == "" && cur == nil && strings.HasPrefix(trimmed, "# "):
			title = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			continue
		case !inFence && strings.HasPrefix(trimmed, "## "):
			flush()
			cur = &Section{Title: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return title, sections
}
