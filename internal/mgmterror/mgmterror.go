// Package mgmterror implements the tagged error record used throughout
// confd to carry NETCONF-style rpc-error information across package
// boundaries and out through the RPC dispatcher.
//
// The shape mirrors RFC 6241 section 4.3: an origin, a kind
// (error-type), a short machine-readable tag, a human message, and
// optional path/info context. Handlers never panic the daemon on one of
// these; the dispatcher converts them into an rpc-error reply.
package mgmterror

import (
	"bytes"
	"fmt"
)

// Origin identifies the subsystem that raised the error.
type Origin string

const (
	OriginDatastore Origin = "datastore"
	OriginSchema    Origin = "schema"
	OriginRPC       Origin = "rpc"
	OriginPlugin    Origin = "plugin"
	OriginSystem    Origin = "system"
	OriginRestconf  Origin = "restconf"
	OriginSSL       Origin = "ssl"
)

// Kind is the NETCONF error-type.
type Kind string

const (
	KindTransport Kind = "transport"
	KindRPC       Kind = "rpc"
	KindProtocol  Kind = "protocol"
	KindApplication Kind = "application"
)

// Well-known error-tag values.
const (
	TagLockDenied             = "lock-denied"
	TagMissingElement         = "missing-element"
	TagInvalidValue           = "invalid-value"
	TagOperationFailed        = "operation-failed"
	TagMalformedMessage       = "malformed-message"
	TagOperationNotSupported  = "operation-not-supported"
	TagUnknownElement         = "unknown-element"
	TagAccessDenied           = "access-denied"
	TagResourceDenied         = "resource-denied"
	TagDataMissing            = "data-missing"
	TagInUse                  = "in-use"
)

// Error is a single tagged rpc-error record.
type Error struct {
	Origin   Origin
	Kind     Kind
	Tag      string
	AppTag   string
	Message  string
	Path     string
	Info     map[string]string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s [path=%s]", e.Tag, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// Formattable is implemented by errors that carry a path, letting a
// front-end pretty-print it without type-asserting *Error directly.
type Formattable interface {
	error
	ErrorPath() string
}

func (e *Error) ErrorPath() string { return e.Path }

func newErr(origin Origin, kind Kind, tag, message string) *Error {
	return &Error{Origin: origin, Kind: kind, Tag: tag, Message: message}
}

func NewLockDeniedError(holder string) *Error {
	e := newErr(OriginDatastore, KindProtocol, TagLockDenied,
		"Datastore is locked by another session")
	e.Info = map[string]string{"session-id": holder}
	return e
}

func NewAccessDeniedApplicationError() *Error {
	return newErr(OriginRPC, KindApplication, TagAccessDenied, "Access denied")
}

func NewOperationFailedApplicationError() *Error {
	return newErr(OriginRPC, KindApplication, TagOperationFailed, "Operation failed")
}

func NewOperationNotSupportedApplicationError() *Error {
	return newErr(OriginRPC, KindApplication, TagOperationNotSupported, "Operation not supported")
}

func NewInvalidValueProtocolError() *Error {
	return newErr(OriginRPC, KindProtocol, TagInvalidValue, "Invalid value")
}

func NewUnknownElementApplicationError(elem string) *Error {
	e := newErr(OriginSchema, KindApplication, TagUnknownElement,
		fmt.Sprintf("An unexpected element is present: %s", elem))
	return e
}

func NewMalformedMessageError() *Error {
	return newErr(OriginRPC, KindRPC, TagMalformedMessage, "Malformed message")
}

func NewResourceDeniedProtocolError() *Error {
	return newErr(OriginRPC, KindProtocol, TagResourceDenied, "Resource denied")
}

func NewDataMissingError() *Error {
	return newErr(OriginDatastore, KindApplication, TagDataMissing, "Data does not exist")
}

func NewInUseError() *Error {
	return newErr(OriginDatastore, KindApplication, TagInUse, "Node already exists")
}

func NewExecError(path []string, msg string) *Error {
	e := newErr(OriginPlugin, KindApplication, TagOperationFailed, msg)
	e.Path = fmt.Sprint(path)
	return e
}

// List aggregates multiple errors into a single reply-worthy error.
type List []*Error

func (l *List) Append(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		if me, ok := err.(*Error); ok {
			*l = append(*l, me)
			continue
		}
		*l = append(*l, newErr(OriginSystem, KindApplication, TagOperationFailed, err.Error()))
	}
}

func (l List) Error() string {
	var b bytes.Buffer
	for i, e := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Error())
	}
	return b.String()
}
