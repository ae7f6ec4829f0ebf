// Package logging builds the slog logger shared by every FPF Core component.
//
// Records carry service and version fields; Component adds a component
// field so queue, scheduler and energy output can be filtered apart.
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "json"      # json, text
//	  output: "stdout"    # stdout, stderr or a file path
//
// Webhook URLs and broker passwords must never be logged.
package logging
