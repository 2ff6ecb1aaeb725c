// Package hooks implements the clients for the external policy services a
// deployment can attach: authorization, request validation, journaling and
// status notification. All of them live on unix-domain sockets; the
// authorization and journal services speak HTTP over the socket, the
// validation and notification services a length-prefixed JSON framing.
package hooks
