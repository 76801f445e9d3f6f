package models

import (
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestErrorKinds(t *testing.T) {
	conn := Connectionf(io.EOF, "dial %s", "qmp.sock")
	if !IsConnection(conn) {
		t.Fatal("connection error not classified")
	}
	if IsProtocol(conn) || IsTimeout(conn) {
		t.Fatal("connection error misclassified")
	}

	proto := Protocolf(nil, "bad checksum")
	if !IsProtocol(proto) {
		t.Fatal("protocol error not classified")
	}

	to := Timeout("wait-stop", 30*time.Second)
	if !IsTimeout(to) {
		t.Fatal("timeout error not classified")
	}

	ns := NotSupported("dosbox", "pause")
	if !IsNotSupported(ns) {
		t.Fatal("not-supported error not classified")
	}

	arg := Argumentf("bad address %q", "zzz")
	if !IsArgument(arg) {
		t.Fatal("argument error not classified")
	}
}

func TestErrorKindsSurviveWrap(t *testing.T) {
	err := Timeout("read", time.Second)
	err = errors.Wrap(err, "memory watch")
	err = errors.Wrap(err, "ws poll")
	if !IsTimeout(err) {
		t.Fatalf("wrap lost the kind: %v", err)
	}
	if IsConnection(err) {
		t.Fatal("wrong kind after wrap")
	}
}

func TestErrorMessages(t *testing.T) {
	err := NotSupported("dosbox", "resume")
	want := "dosbox backend does not support resume"
	if err.Error() != want {
		t.Fatalf("message = %q", err.Error())
	}
	to := Timeout("wait-stop", 2*time.Second)
	if to.Error() != "wait-stop timed out after 2s" {
		t.Fatalf("message = %q", to.Error())
	}
}
