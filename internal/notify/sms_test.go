package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateSMS(t *testing.T) {
	long := strings.Repeat("a", 300)
	truncated := TruncateSMS(long)
	assert.Len(t, []rune(truncated), SMSMaxLength)
	assert.Equal(t, strings.Repeat("a", 160), truncated)
}

func TestTruncateSMSShortContentUntouched(t *testing.T) {
	short := "see you tomorrow at 10:00"
	assert.Equal(t, short, TruncateSMS(short))

	exact := strings.Repeat("x", SMSMaxLength)
	assert.Equal(t, exact, TruncateSMS(exact))
}

func TestTruncateSMSCountsRunes(t *testing.T) {
	// 200 multibyte characters: the cut must land on a rune boundary.
	long := strings.Repeat("予", 200)
	truncated := TruncateSMS(long)
	assert.Len(t, []rune(truncated), SMSMaxLength)
	assert.Equal(t, strings.Repeat("予", 160), truncated)
}
