// Package content extracts structured widgets from free-form model output.
//
// A reply such as
//
//	Here's the weather:
//	{"type":"weather","city":"Berlin","temperature":15, ...}
//	Have a great day!
//
// parses into [Text, Weather, Text]. Objects whose "type" is not
// registered stay inside the surrounding text, and objects that carry a
// registered tag but fail strict decoding are kept as Text so no data is
// lost. Decoders validate required fields and enum values with
// go-playground/validator; new widgets are added with Register.
package content
