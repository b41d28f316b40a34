package lib

import (
	"fmt"
	"io"
	"runtime"
)

// PrintVersion prints the app version to w.
func PrintVersion(w io.Writer, appName string, version string, gitref string) {
	if gitref != "" {
		fmt.Fprintf(w, "%v v%v git:%v %v\n", appName, version, gitref, runtime.Version())
	} else {
		fmt.Fprintf(w, "%v v%v %v\n", appName, version, runtime.Version())
	}
}
