package keyframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "prompt-morph/internal/errors"
)

type fixedRand struct{ values []uint32 }

func (r *fixedRand) Uint32() uint32 {
	v := r.values[0]
	r.values = r.values[1:]
	return v
}

func TestParseKeyframes_SeedAndPrompt(t *testing.T) {
	got := ParseKeyframes("1 | a cat\n\n  2|a dog  \nno seed here\n   \n")
	assert.Equal(t, []Keyframe{
		{Seed: "1", Prompt: "a cat"},
		{Seed: "2", Prompt: "a dog"},
		{Seed: "", Prompt: "no seed here"},
	}, got)
}

func TestParseKeyframes_WindowsLineEndings(t *testing.T) {
	got := ParseKeyframes("1 | a\r\n2 | b\r\n")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Prompt)
	assert.Equal(t, "b", got[1].Prompt)
}

func TestParseNegatives_PadsWithLast(t *testing.T) {
	got := ParseNegatives("blurry\n", "default", 3)
	assert.Equal(t, []string{"blurry", "blurry", "blurry"}, got)
}

func TestParseNegatives_EmptyUsesFallback(t *testing.T) {
	got := ParseNegatives("\n  \n", "lowres", 2)
	assert.Equal(t, []string{"lowres", "lowres"}, got)
}

func TestParseNegatives_LongerListKept(t *testing.T) {
	got := ParseNegatives("a\nb\nc", "", 2)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestParse_TooFewKeyframes(t *testing.T) {
	seq, err := Parse("1 | only one\n", "", "")
	require.Error(t, err)
	assert.Nil(t, seq)
	assert.ErrorIs(t, err, apperrors.ErrTooFewKeyframes)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestParse_NegativesMatchKeyframes(t *testing.T) {
	seq, err := Parse("a\nb\nc", "ugly", "")
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())
	assert.Equal(t, 2, seq.Segments())
	assert.Len(t, seq.Negatives, seq.Len())
}

func TestSequence_Summary(t *testing.T) {
	seq, err := Parse("1 | a cat\na dog", "", "")
	require.NoError(t, err)
	assert.Equal(t, "1 | a cat\n | a dog", seq.Summary())
}

func TestResolveSeeds_CarryOver(t *testing.T) {
	kfs := []Keyframe{{Seed: "5"}, {Seed: ""}, {Seed: "9"}, {Seed: ""}}
	seeds, err := ResolveSeeds(kfs, 0, &fixedRand{})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 5, 9, 9}, seeds)
}

func TestResolveSeeds_RandomDrawnOnce(t *testing.T) {
	kfs := []Keyframe{{Seed: "-1"}, {Seed: ""}, {Seed: "-1"}}
	seeds, err := ResolveSeeds(kfs, 0, &fixedRand{values: []uint32{111, 222}})
	require.NoError(t, err)
	assert.Equal(t, []int64{111, 111, 222}, seeds)
}

func TestResolveSeeds_DefaultForFirst(t *testing.T) {
	seeds, err := ResolveSeeds([]Keyframe{{}, {Seed: "3"}}, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 3}, seeds)

	seeds, err = ResolveSeeds([]Keyframe{{}, {}}, -1, &fixedRand{values: []uint32{7}})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 7}, seeds)
}

func TestResolveSeeds_InvalidSeed(t *testing.T) {
	_, err := ResolveSeeds([]Keyframe{{Seed: "abc"}, {Seed: "1"}}, 0, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "keyframe 1")
}
