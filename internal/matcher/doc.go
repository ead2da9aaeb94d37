// Package matcher locates template images inside device frames.
//
// Matching is zero-mean normalised cross-correlation (the TM_CCOEFF_NORMED
// measure) mapped to [0,1]. A match is attempted at the template's native
// size first and then at each configured scale; the highest scoring window
// wins and its centre is reported in frame coordinates.
//
// Match and FindAll are pure functions of their inputs. Decoded templates
// may be cached by path through Cache; frames never are.
package matcher
