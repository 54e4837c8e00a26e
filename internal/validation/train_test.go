package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/config"
	"fairdatastation/internal/metadata"
)

const prefixes = `@prefix fdt: <https://w3id.org/fdt/fdt-o#> .
@prefix dct: <http://purl.org/dc/terms/> .
`

func graph(t *testing.T, body string) *metadata.Graph {
	t.Helper()
	g, err := metadata.ParseTurtle(strings.NewReader(prefixes+body), "http://trains.example/")
	require.NoError(t, err)
	return g
}

func TestValidateSingleTrain(t *testing.T) {
	v := NewValidator(NewRegistry(SPARQLTrain))
	g := graph(t, `<http://trains.example/t> a fdt:SPARQLTrain ; dct:title "t" .`)

	train, err := v.Validate(g)
	require.NoError(t, err)
	assert.Equal(t, "http://trains.example/t", train.String())

	typ, err := v.DetermineType(g, train)
	require.NoError(t, err)
	assert.Equal(t, SPARQLTrain, typ)
}

func TestValidateViaDublinCoreType(t *testing.T) {
	v := NewValidator(NewRegistry(FHIRTrain))
	g := graph(t, `<http://trains.example/t> dct:type fdt:FHIRTrain .`)

	train, err := v.Validate(g)
	require.NoError(t, err)
	typ, err := v.DetermineType(g, train)
	require.NoError(t, err)
	assert.Equal(t, FHIRTrain, typ)
}

func TestValidateNoTrain(t *testing.T) {
	v := NewValidator(NewRegistry(SPARQLTrain))
	_, err := v.Validate(graph(t, `<http://trains.example/x> dct:title "nothing" .`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Contains(t, err.Error(), "No train specification found")
}

func TestValidateMoreThanOneTrain(t *testing.T) {
	v := NewValidator(NewRegistry(SPARQLTrain))
	_, err := v.Validate(graph(t, `
<http://trains.example/a> a fdt:Train .
<http://trains.example/b> a fdt:SPARQLTrain .
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "More than one train")
}

func TestSameTrainDeclaredTwiceCountsOnce(t *testing.T) {
	v := NewValidator(NewRegistry(SPARQLTrain))
	g := graph(t, `<http://trains.example/a> a fdt:Train, fdt:SPARQLTrain ; dct:type fdt:SPARQLTrain .`)
	_, err := v.Validate(g)
	assert.NoError(t, err)
}

func TestDetermineTypeHonoursReadiness(t *testing.T) {
	g := graph(t, `<http://trains.example/a> a fdt:SPARQLTrain, fdt:FHIRTrain .`)

	v := NewValidator(NewRegistry())
	train, err := v.Validate(g)
	require.NoError(t, err)
	_, err = v.DetermineType(g, train)
	assert.ErrorContains(t, err, "No supported train type")

	v = NewValidator(NewRegistry(SPARQLTrain, FHIRTrain))
	_, err = v.DetermineType(g, train)
	assert.ErrorContains(t, err, "Multiple supported train types")

	v = NewValidator(NewRegistry(FHIRTrain))
	typ, err := v.DetermineType(g, train)
	require.NoError(t, err)
	assert.Equal(t, FHIRTrain, typ)
}

func TestGenericTrainOnlyHasNoType(t *testing.T) {
	g := graph(t, `<http://trains.example/a> a fdt:Train .`)
	v := NewValidator(NewRegistry(SPARQLTrain, FHIRTrain))
	train, err := v.Validate(g)
	require.NoError(t, err)
	_, err = v.DetermineType(g, train)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRegistryFromConfig(t *testing.T) {
	r := RegistryFromConfig(config.Config{TripleStoreEndpoint: "http://ts/sparql"})
	assert.True(t, r.Supports(SPARQLTrain))
	assert.False(t, r.Supports(FHIRTrain))
	assert.Equal(t, []TrainType{SPARQLTrain}, r.Supported())
}
