package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elastic-hive-sync/internal/model"
)

func TestOf_Deterministic(t *testing.T) {
	a := Of("abc123", "rule-1", "2024-03-01T10:00:00.000Z")
	b := Of("abc123", "rule-1", "2024-03-01T10:00:00.000Z")
	assert.Equal(t, a, b)
	assert.Len(t, a, Length)
}

func TestOf_DiffersByField(t *testing.T) {
	base := Of("abc123", "rule-1", "2024-03-01T10:00:00.000Z")
	assert.NotEqual(t, base, Of("abc124", "rule-1", "2024-03-01T10:00:00.000Z"), "id")
	assert.NotEqual(t, base, Of("abc123", "rule-2", "2024-03-01T10:00:00.000Z"), "rule id")
	assert.NotEqual(t, base, Of("abc123", "rule-1", "2024-03-01T10:00:01.000Z"), "timestamp")
}

func TestOf_MatchesMD5Prefix(t *testing.T) {
	sum := md5.Sum([]byte("id-1:rule-9:2024-01-01T00:00:00Z"))
	want := hex.EncodeToString(sum[:])[:16]
	assert.Equal(t, want, Of("id-1", "rule-9", "2024-01-01T00:00:00Z"))
}

func TestOf_HexOnly(t *testing.T) {
	fp := Of("x", "", "")
	_, err := hex.DecodeString(fp)
	require.NoError(t, err)
}

func TestForAlert_MissingFields(t *testing.T) {
	a := model.SourceAlert{ID: "only-id"}
	assert.Equal(t, Of("only-id", "", ""), ForAlert(a))
}

func TestForAlert_ManyIDsUnique(t *testing.T) {
	seen := make(map[string]string, 2000)
	for i := 0; i < 2000; i++ {
		id := "alert-" + string(rune('a'+i%26)) + "-" + hex.EncodeToString([]byte{byte(i >> 8), byte(i)})
		fp := ForAlert(model.SourceAlert{ID: id, Rule: model.Rule{ID: "r"}, Timestamp: "t"})
		if prev, ok := seen[fp]; ok {
			t.Fatalf("collision between %s and %s", prev, id)
		}
		seen[fp] = id
	}
}
