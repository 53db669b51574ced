package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageRequestLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxResults, PageRequest{}.Limit())
	assert.Equal(t, 25, PageRequest{MaxResults: 25}.Limit())
	assert.Equal(t, MaxMaxResults, PageRequest{MaxResults: 5000}.Limit())
	assert.Equal(t, DefaultMaxResults, PageRequest{MaxResults: -1}.Limit())
}

func TestPageTokenRoundTrip(t *testing.T) {
	type cursor struct {
		Offset int    `json:"o"`
		Snap   string `json:"f"`
	}

	token, err := EncodePageToken("file", "shares", cursor{Offset: 42, Snap: "abc"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var got cursor
	require.NoError(t, DecodePageToken(token, "file", "shares", &got))
	assert.Equal(t, cursor{Offset: 42, Snap: "abc"}, got)
}

func TestPageTokenRejectsWrongBackend(t *testing.T) {
	token, err := EncodePageToken("file", "shares", 7)
	require.NoError(t, err)

	var got int
	err = DecodePageToken(token, "dynamo", "shares", &got)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPageTokenRejectsWrongScope(t *testing.T) {
	token, err := EncodePageToken("file", "shares", 7)
	require.NoError(t, err)

	var got int
	err = DecodePageToken(token, "file", "schemas:sales", &got)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPageTokenRejectsGarbage(t *testing.T) {
	var got int
	var verr *ValidationError
	require.ErrorAs(t, DecodePageToken("not base64!!", "file", "shares", &got), &verr)
	require.ErrorAs(t, DecodePageToken("bm90IGpzb24", "file", "shares", &got), &verr)
}
