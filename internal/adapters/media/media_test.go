package media

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	. "github.com/smartystreets/goconvey/convey"
)

type fakePresigner struct {
	input   *s3.PutObjectInput
	expires time.Duration
}

func (f *fakePresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.input = in
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://bucket.s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc",
		Method: "PUT",
	}, nil
}

func TestPresignImage(t *testing.T) {
	Convey("Given an uploader", t, func() {
		fake := &fakePresigner{}
		u := New(fake, "match-media", 10*time.Minute)

		Convey("When presigning a png", func() {
			up, err := u.PresignImage(context.Background(), "m1", "../../cover.png", "image/png")

			Convey("Then the key should be scoped to the match", func() {
				So(err, ShouldBeNil)
				So(strings.HasPrefix(up.Key, "matches/m1/"), ShouldBeTrue)
				So(strings.HasSuffix(up.Key, "-cover.png"), ShouldBeTrue)
				So(up.Method, ShouldEqual, "PUT")
				So(aws.ToString(fake.input.Bucket), ShouldEqual, "match-media")
				So(aws.ToString(fake.input.ContentType), ShouldEqual, "image/png")
				So(fake.expires, ShouldEqual, 10*time.Minute)
			})
		})

		Convey("When the content type is not an image", func() {
			_, err := u.PresignImage(context.Background(), "m1", "x.exe", "application/octet-stream")
			So(errors.Is(err, ErrUnsupportedType), ShouldBeTrue)
		})

		Convey("When the file name is empty", func() {
			_, err := u.PresignImage(context.Background(), "m1", " ", "image/png")
			So(errors.Is(err, ErrInvalidFileName), ShouldBeTrue)
		})
	})

	Convey("Given no uploader", t, func() {
		var u *Uploader
		_, err := u.PresignImage(context.Background(), "m1", "a.png", "image/png")
		So(errors.Is(err, ErrNotConfigured), ShouldBeTrue)
	})
}
