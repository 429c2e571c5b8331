package diagnostics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDropsIgnoreSeverity(t *testing.T) {
	c := NewCollector()
	c.Add(Diagnostic{Severity: SeverityIgnore, Message: "dropped"})
	c.Add(Diagnostic{Severity: SeverityWarn, Message: "kept"})

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "kept", all[0].Message)
}

func TestHasErrorsOnlyTrueForErrorSeverity(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.HasErrors())

	c.Add(Diagnostic{Severity: SeverityWarn, Message: "just a warning"})
	assert.False(t, c.HasErrors())

	c.Add(Diagnostic{Severity: SeverityError, PolicyKey: "object_invalid_enum", Message: "bad enum"})
	assert.True(t, c.HasErrors())
	assert.Equal(t, 1, c.ExitCode())
}

func TestAllIsSortedDeterministically(t *testing.T) {
	c := NewCollector()
	c.Add(Diagnostic{File: "b.md", Line: 5, PolicyKey: "z", Message: "1"})
	c.Add(Diagnostic{File: "a.md", Line: 9, PolicyKey: "y", Message: "2"})
	c.Add(Diagnostic{File: "a.md", Line: 2, PolicyKey: "x", Message: "3"})

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].Message)
	assert.Equal(t, "2", all[1].Message)
	assert.Equal(t, "1", all[2].Message)
}

func TestCountBySeverity(t *testing.T) {
	c := NewCollector()
	c.Add(Diagnostic{Severity: SeverityError, Message: "1"})
	c.Add(Diagnostic{Severity: SeverityError, Message: "2"})
	c.Add(Diagnostic{Severity: SeverityWarn, Message: "3"})

	counts := c.CountBySeverity()
	assert.Equal(t, 2, counts[SeverityError])
	assert.Equal(t, 1, counts[SeverityWarn])
}

func TestCollectorIsSafeForConcurrentAppends(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Add(Diagnostic{Severity: SeverityWarn, Message: "render task"})
		}(i)
	}
	wg.Wait()
	assert.Len(t, c.All(), 50)
}

func TestErrorfFormatsMessage(t *testing.T) {
	c := NewCollector()
	c.Errorf("VERIFY", "proof-runner", "query failed: %s", "syntax error")

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, SeverityError, all[0].Severity)
	assert.Equal(t, "VERIFY", all[0].Phase)
	assert.Contains(t, all[0].Message, "syntax error")
}

func TestDiagnosticStringFormatting(t *testing.T) {
	withLine := Diagnostic{Severity: SeverityError, File: "doc.md", Line: 12, Message: "bad"}
	assert.Equal(t, "[error] doc.md:12: bad", withLine.String())

	withoutLine := Diagnostic{Severity: SeverityWarn, File: "doc.md", Message: "warn"}
	assert.Equal(t, "[warn] doc.md: warn", withoutLine.String())

	bare := Diagnostic{Severity: SeverityError, Message: "fatal"}
	assert.Equal(t, "[error] fatal", bare.String())
}
