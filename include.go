// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interp

import (
	"os"

	"github.com/rs/zerolog"
)

// validIncludePath applies the sanitization checks to one candidate:
// minimum length, no NUL or control bytes other than \n and \t,
// absolute, and an existing directory.
func validIncludePath(path string) (ok bool, reason string) {
	if len(path) < 3 {
		return false, "too short"
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == 0 || (c < 32 && c != '\n' && c != '\t') {
			return false, "control byte"
		}
	}
	if path[0] != '/' {
		return false, "not absolute"
	}
	st, err := os.Stat(path)
	if err != nil {
		return false, "does not exist"
	}
	if !st.IsDir() {
		return false, "not a directory"
	}
	return true, ""
}

// sanitizeIncludePaths filters the engine's include detection output.
// The detection helper may emit corrupted or non-existent paths;
// failures are logged and dropped rather than handed to the compiler.
func sanitizeIncludePaths(paths []string, log zerolog.Logger) []string {
	sanitized := make([]string, 0, len(paths))
	for _, p := range paths {
		if ok, reason := validIncludePath(p); !ok {
			log.Warn().Str("path", p).Str("reason", reason).Msg("dropping include path")
			continue
		}
		sanitized = append(sanitized, p)
	}
	return sanitized
}

// interpreterArgs assembles the compiler-argument vector: debug flags,
// the detected resource directory when non-empty, and each validated
// system include path prefixed by -isystem.
func interpreterArgs(eng Engine, log zerolog.Logger) []string {
	args := []string{"-g", "-O0"}
	if dir := eng.ResourceDir(); dir != "" {
		args = append(args, "-resource-dir", dir)
		log.Info().Str("dir", dir).Msg("using resource directory")
	} else {
		log.Warn().Msg("no resource directory detected")
	}
	includes := sanitizeIncludePaths(eng.SystemIncludePaths(), log)
	for _, inc := range includes {
		args = append(args, "-isystem", inc)
	}
	log.Info().Int("includes", len(includes)).Msg("assembled interpreter arguments")
	return args
}
