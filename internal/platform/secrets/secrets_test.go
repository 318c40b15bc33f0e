package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out  *ssm.GetParameterOutput
	err  error
	last *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	return f.out, f.err
}

type staticGetter map[string]string

func (s staticGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestGetParameter_Decrypts(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name:  aws.String("/snap/jwt"),
		Value: aws.String("s3cret"),
		Type:  types.ParameterTypeSecureString,
	}}}
	store, err := NewParameterStore(api)
	require.NoError(t, err)

	v, err := store.GetParameter(context.Background(), " /snap/jwt ")
	require.NoError(t, err)
	require.Equal(t, "s3cret", v)
	require.Equal(t, "/snap/jwt", aws.ToString(api.last.Name))
	require.True(t, aws.ToBool(api.last.WithDecryption))
}

func TestGetParameter_Errors(t *testing.T) {
	_, err := NewParameterStore(nil)
	require.ErrorContains(t, err, "must not be nil")

	_, err = (&ParameterStore{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	store, err := NewParameterStore(&fakeSSM{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = store.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = store.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")

	store, err = NewParameterStore(&fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}})
	require.NoError(t, err)
	_, err = store.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "no value")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	g := staticGetter{"/snap/jwt": " from-ssm \n"}

	v, err := Resolve(ctx, g, "inline", "/snap/jwt")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v, "parameter store wins when a param is named")

	v, err = Resolve(ctx, g, " inline ", "")
	require.NoError(t, err)
	require.Equal(t, "inline", v)

	v, err = Resolve(ctx, g, "", "/snap/jwt")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)

	v, err = Resolve(ctx, g, "", "")
	require.NoError(t, err)
	require.Empty(t, v)

	_, err = Resolve(ctx, nil, "", "/snap/jwt")
	require.Error(t, err)

	_, err = Resolve(ctx, g, "", "/missing")
	require.Error(t, err)
}
