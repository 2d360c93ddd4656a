package objectstore

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestMinNonFinalPart(t *testing.T) {
	cases := []struct {
		name  string
		sizes []int64
		want  int64
	}{
		{name: "single part", sizes: []int64{1000}, want: 1000},
		{name: "uniform parts with short tail", sizes: []int64{5_000_000, 5_000_000, 1_214_400}, want: 5_000_000},
		{name: "final part ignored", sizes: []int64{8_000_000, 6_000_000, 100}, want: 6_000_000},
		{name: "smallest leads", sizes: []int64{1_000_000, 9_000_000, 9_000_000}, want: 1_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parts := make([]ObjectInfo, 0, len(tc.sizes))
			for _, size := range tc.sizes {
				parts = append(parts, ObjectInfo{Size: size})
			}
			if got := minNonFinalPart(parts); got != tc.want {
				t.Fatalf("minNonFinalPart = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&types.NotFound{}) {
		t.Fatal("types.NotFound must map to not-found")
	}
	if !isNotFound(&types.NoSuchKey{}) {
		t.Fatal("types.NoSuchKey must map to not-found")
	}
	if isNotFound(ErrUnavailable) {
		t.Fatal("unrelated errors must not map to not-found")
	}
	if isNotFound(nil) {
		t.Fatal("nil is not not-found")
	}
}
