package apperror_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/matchpoint/internal/domain/apperror"
	. "github.com/smartystreets/goconvey/convey"
)

var errMatchFull = errors.New("match is full")

func TestError(t *testing.T) {
	Convey("Given an error with a kind and a reason", t, func() {
		err := apperror.New("app.join", apperror.ErrConflict, errMatchFull)

		Convey("Then both kind and reason should match with errors.Is", func() {
			So(errors.Is(err, apperror.ErrConflict), ShouldBeTrue)
			So(errors.Is(err, errMatchFull), ShouldBeTrue)
			So(errors.Is(err, apperror.ErrValidation), ShouldBeFalse)
		})

		Convey("Then the message should carry op and reason", func() {
			So(err.Error(), ShouldEqual, "app.join: match is full")
		})

		Convey("Then KindOf and Code should report the kind", func() {
			So(apperror.KindOf(err), ShouldEqual, apperror.ErrConflict)
			So(apperror.Code(err), ShouldEqual, "conflict")
		})

		Convey("When wrapped again with fmt.Errorf", func() {
			wrapped := fmt.Errorf("handler: %w", err)

			Convey("Then the kind should survive", func() {
				So(apperror.KindOf(wrapped), ShouldEqual, apperror.ErrConflict)
			})
		})
	})

	Convey("Given a cause wrapped with a kind", t, func() {
		cause := errors.New("database is locked")
		err := apperror.WrapKind("store.update", apperror.ErrTransient, cause)

		Convey("Then the cause should be reachable", func() {
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "store.update: transient store error: database is locked")
			So(apperror.Code(err), ShouldEqual, "unavailable")
		})

		Convey("When re-wrapped with Wrap", func() {
			outer := apperror.Wrap("app.leave", err)

			Convey("Then the kind should be preserved", func() {
				So(apperror.KindOf(outer), ShouldEqual, apperror.ErrTransient)
				So(outer.Error(), ShouldEqual, "app.leave: store.update: transient store error: database is locked")
			})
		})
	})

	Convey("Given a plain error", t, func() {
		err := errors.New("boom")

		Convey("Then it should have no kind", func() {
			So(apperror.KindOf(err), ShouldBeNil)
			So(apperror.Code(err), ShouldEqual, "internal_error")
			So(apperror.Wrap("op", nil), ShouldBeNil)
		})
	})

	Convey("Given a validation shorthand", t, func() {
		err := apperror.Validation("app.create", "sport is required")

		So(errors.Is(err, apperror.ErrValidation), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "app.create: sport is required")
	})
}
