package printer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/batchctl/batchctl/pkg/core/status"
)

func TestPlainUpdate(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Plain, 0)
	p.Update(Snapshot{Total: 3, Counts: map[status.Status]int{status.Success: 2, status.Running: 1}})
	assert.Contains(t, buf.String(), "total=3")
	assert.Contains(t, buf.String(), "success=2")
}

func TestBarUpdateFullyDone(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Bar, 10)
	p.Update(Snapshot{Total: 2, Counts: map[status.Status]int{status.Success: 2}})
	assert.Contains(t, buf.String(), "##########")
	assert.Contains(t, buf.String(), "2/2 done")
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, Plain, 0)
	p.Summary(Snapshot{Total: 1, Counts: map[status.Status]int{status.Success: 1}})
	assert.Contains(t, buf.String(), "session complete")
}
