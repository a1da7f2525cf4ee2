//go:build lobdebug

package lob

const debugChecks = true
