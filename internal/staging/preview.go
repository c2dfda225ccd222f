package staging

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// Preview is the confirmation view of a computed job list.
type Preview struct {
	Count int   `json:"count"`
	Jobs  []Job `json:"jobs"`
}

// NewPreview wraps jobs for confirmation. A nil list yields an empty,
// non-nil Jobs slice so it encodes as [].
func NewPreview(jobs []Job) Preview {
	if jobs == nil {
		jobs = []Job{}
	}
	return Preview{Count: len(jobs), Jobs: jobs}
}

// Summary is the one-line header shown above the table.
func (p Preview) Summary() string {
	return fmt.Sprintf("%d transfer jobs to be submitted.", p.Count)
}

// WriteTable renders the summary and a From/To table to w.
func (p Preview) WriteTable(w io.Writer) error {
	data := pterm.TableData{{"From (srcURL)", "To (dstURL)"}}
	for _, j := range p.Jobs {
		data = append(data, []string{j.SrcURL, j.DstURL})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render job table: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n%s\n", p.Summary(), table)
	return err
}
