// Package capture defines the audio source consumed by the monitor loop and
// the classification of its failures.
//
// Read errors wrapping ErrTransient (buffer overrun or underrun) are recovered
// with Source.Recover and the chunk is read again. Everything else is fatal.
package capture
