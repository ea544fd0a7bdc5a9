// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Packet rejections are never reported through these; they
// cover configuration, sources and the pipeline.
var (
	// Pipeline errors
	ErrPipelineStopped = errors.New("ingress: pipeline stopped")

	// Source errors
	ErrSourceNotStarted    = errors.New("ingress: source not started")
	ErrUnsupportedLinkType = errors.New("ingress: unsupported link type")

	// Configuration errors
	ErrConfigInvalid      = errors.New("ingress: invalid configuration")
	ErrInvalidMacAddress  = errors.New("ingress: invalid MAC address")
	ErrVlanPolicyConflict = errors.New("ingress: duplicate VLAN policy")
	ErrInterfaceNotFound  = errors.New("ingress: interface not found")

	// Buffer errors
	ErrBufferTooLarge = errors.New("ingress: frame exceeds buffer capacity")
)
