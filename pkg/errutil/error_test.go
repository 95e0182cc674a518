package errutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"storage", Storage(errors.New("timeout"), "download %s", "inputs/a.png"), CategoryStorage},
		{"inference", Inference(errors.New("500"), "invoke model"), CategoryModel},
		{"response format", ResponseFormat("image field missing"), CategoryModel},
		{"image", ImageProcessing(errors.New("bad jpeg"), "thumbnail"), CategoryImage},
		{"not found", ErrTaskNotFound, CategoryNotFound},
		{"plain", errors.New("boom"), CategoryUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestResponseFormatIsInference(t *testing.T) {
	err := ResponseFormat("no image in payload")
	require.ErrorIs(t, err, ErrResponseFormat)
	require.ErrorIs(t, err, ErrInference)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage(cause, "upload %s", "results/a.jpg")
	require.ErrorIs(t, err, ErrStorage)
	require.Contains(t, err.Error(), "results/a.jpg")
	require.Contains(t, err.Error(), "connection reset")
}
