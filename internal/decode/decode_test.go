package decode

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navit-project/maptool/internal/model"
)

func TestLineProtocolParsesNode(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("node 1 1.5 2.5 highway=primary\n"))
	e, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, KindNode, e.Kind)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, int32(1500000), e.Lat)
	assert.Equal(t, int32(2500000), e.Lon)
	assert.Equal(t, []model.Attr{{Key: "highway", Value: "primary"}}, e.Tags)
}

func TestLineProtocolParsesWay(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("way 10 1,2,3 highway=track\n"))
	e, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, KindWay, e.Kind)
	assert.Equal(t, []int64{1, 2, 3}, e.NodeRefs)
}

func TestLineProtocolParsesWayWithNoRefs(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("way 10 -\n"))
	e, err := s.Next()
	require.NoError(t, err)
	assert.Nil(t, e.NodeRefs)
}

func TestLineProtocolParsesRelation(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("relation 99 w:1:outer,n:2:label\n"))
	e, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, KindRelation, e.Kind)
	require.Len(t, e.Members, 2)
	assert.Equal(t, model.MemberWay, e.Members[0].Type)
	assert.Equal(t, "outer", e.Members[0].Role)
	assert.Equal(t, model.MemberNode, e.Members[1].Type)
}

func TestLineProtocolSkipsBlankAndComments(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("\n# a comment\nnode 1 0 0\n"))
	e, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ID)
}

func TestLineProtocolEOF(t *testing.T) {
	s := NewLineProtocol(strings.NewReader(""))
	_, err := s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestLineProtocolRejectsUnknownKind(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("bogus 1 0 0\n"))
	_, err := s.Next()
	assert.Error(t, err)
}

func TestLineProtocolRejectsMalformedMember(t *testing.T) {
	s := NewLineProtocol(strings.NewReader("relation 1 bad\n"))
	_, err := s.Next()
	assert.Error(t, err)
}
