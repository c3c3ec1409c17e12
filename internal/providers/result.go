package providers

import "fmt"

type Kind int

const (
	KindOK Kind = iota
	KindAuthMissing
	KindTimeout
	KindRemoteError
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindAuthMissing:
		return "auth_missing"
	case KindTimeout:
		return "timeout"
	case KindRemoteError:
		return "remote_error"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the normalized outcome of one provider call. Text is set only for
// KindOK; Code and Detail only for failures.
type Result struct {
	Kind   Kind
	Text   string
	Code   int
	Detail string
}

func Success(text string) Result { return Result{Kind: KindOK, Text: text} }

func MissingAuth() Result { return Result{Kind: KindAuthMissing} }

func TimedOut() Result { return Result{Kind: KindTimeout} }

// Remote reports a non-success status. Code 0 means the request never got a
// response (dial, TLS, reset).
func Remote(code int, detail string) Result {
	return Result{Kind: KindRemoteError, Code: code, Detail: detail}
}

func Malformed(detail string) Result { return Result{Kind: KindMalformed, Detail: detail} }

func (r Result) OK() bool { return r.Kind == KindOK }

func (r Result) String() string {
	switch r.Kind {
	case KindOK:
		return "ok"
	case KindRemoteError:
		return fmt.Sprintf("remote_error(%d): %s", r.Code, r.Detail)
	case KindMalformed:
		return "malformed: " + r.Detail
	default:
		return r.Kind.String()
	}
}
