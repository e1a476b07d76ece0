package satn

import (
	"testing"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/stretchr/testify/assert"
)

func TestRenderPrimitives(t *testing.T) {
	assert.Equal(t, "true", Render(bsatn.BoolValue(true), bsatn.Bool()))
	assert.Equal(t, "42", Render(bsatn.U32Value(42), bsatn.U32()))
	assert.Equal(t, "'it''s'", Render(bsatn.StringValue("it's"), bsatn.String()))
}

func TestRenderProduct(t *testing.T) {
	at := bsatn.Product(bsatn.NamedType{Name: "id", Type: bsatn.U32()}, bsatn.NamedType{Name: "name", Type: bsatn.String()})
	v := bsatn.ProductValue(bsatn.U32Value(1), bsatn.StringValue("a"))
	assert.Equal(t, "(id: 1, name: 'a')", Render(v, at))
}

func TestRenderSumOption(t *testing.T) {
	at := bsatn.Option(bsatn.U32())
	payload := bsatn.U32Value(5)
	assert.Equal(t, "some(5)", Render(bsatn.SumValue(0, &payload), at))
	assert.Equal(t, "none()", Render(bsatn.SumValue(1, nil), at))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "player", QuoteIdentifier("player"))
	assert.Equal(t, `"my table"`, QuoteIdentifier("my table"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
}
