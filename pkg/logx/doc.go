// Package logx is a thin structured-logging facade over zerolog.
//
// It exists so components take a small Logger value instead of a concrete
// zerolog.Logger, and so output sinks and levels can be swapped at runtime
// via Service.Apply without re-wiring every component.
package logx
