// Package model defines the error taxonomy shared by every pipeline stage and the
// stable boundary types served over the HTTP API.
//
// Commitment bytes are unaffected by any projection here. These structs are the
// only types intended for direct JSON serialization by consumers.
package model
