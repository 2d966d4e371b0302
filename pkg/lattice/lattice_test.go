package lattice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("lww value", func(t *testing.T) {
		payload, err := Encode(LWW{Timestamp: 42, Value: []byte("foo")})
		require.NoError(t, err)

		env, err := Decode(TypeLWW, payload)
		require.NoError(t, err)
		assert.Equal(t, LWW{Timestamp: 42, Value: []byte("foo")}, env)
	})

	t.Run("empty lww value decodes to empty slice", func(t *testing.T) {
		payload, err := Encode(LWW{Timestamp: 1})
		require.NoError(t, err)

		env, err := Decode(TypeLWW, payload)
		require.NoError(t, err)
		assert.Equal(t, []byte{}, env.(LWW).Value)
	})

	t.Run("set is normalized", func(t *testing.T) {
		payload, err := Encode(Set{Members: []string{"3", "1", "2", "1"}})
		require.NoError(t, err)

		env, err := Decode(TypeSet, payload)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}, env.(Set).Members)
	})

	t.Run("unknown fields are skipped", func(t *testing.T) {
		payload, err := Encode(LWW{Timestamp: 7, Value: []byte("v")})
		require.NoError(t, err)
		payload = protowire.AppendTag(payload, 9, protowire.VarintType)
		payload = protowire.AppendVarint(payload, 123)

		env, err := Decode(TypeLWW, payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), env.(LWW).Timestamp)
	})

	t.Run("truncated payload", func(t *testing.T) {
		payload, err := Encode(LWW{Timestamp: 7, Value: []byte("value")})
		require.NoError(t, err)

		_, err = Decode(TypeLWW, payload[:len(payload)-2])
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode(TypeNone, nil)
		assert.ErrorIs(t, err, ErrUnknownType)

		_, err = Decode(Type(99), nil)
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		existing Envelope
		incoming Envelope
		want     Envelope
		wantErr  error
	}{
		{
			name:     "newer lww wins",
			existing: LWW{Timestamp: 1, Value: []byte("old")},
			incoming: LWW{Timestamp: 2, Value: []byte("new")},
			want:     LWW{Timestamp: 2, Value: []byte("new")},
		},
		{
			name:     "older lww is ignored",
			existing: LWW{Timestamp: 5, Value: []byte("kept")},
			incoming: LWW{Timestamp: 2, Value: []byte("stale")},
			want:     LWW{Timestamp: 5, Value: []byte("kept")},
		},
		{
			name:     "tie goes to incoming",
			existing: LWW{Timestamp: 3, Value: []byte("a")},
			incoming: LWW{Timestamp: 3, Value: []byte("b")},
			want:     LWW{Timestamp: 3, Value: []byte("b")},
		},
		{
			name:     "set is replaced",
			existing: NewSet([]string{"1", "2", "3"}),
			incoming: Set{Members: []string{"4", "2", "1"}},
			want:     Set{Members: []string{"1", "2", "4"}},
		},
		{
			name:     "type mismatch",
			existing: LWW{Timestamp: 1},
			incoming: NewSet([]string{"x"}),
			wantErr:  ErrTypeMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Merge(tc.existing, tc.incoming)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	frozen := time.Unix(1700000000, 0)
	clock := NewClockWithSource(func() time.Time { return frozen })

	first := clock.Next()
	second := clock.Next()
	third := clock.Next()

	assert.Equal(t, uint64(frozen.UnixNano()), first)
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
}

func TestClockSurvivesBackwardsWallClock(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := NewClockWithSource(func() time.Time { return now })

	before := clock.Next()
	now = now.Add(-time.Hour)
	after := clock.Next()

	assert.Greater(t, after, before)
}

func TestSetContains(t *testing.T) {
	s := NewSet([]string{"b", "a"})
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))
	assert.Equal(t, "set", s.Type().String())
	assert.True(t, TypeLWW.Valid())
	assert.False(t, TypeNone.Valid())
}
