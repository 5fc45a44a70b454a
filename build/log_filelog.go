// +build filelog

package build

import "os"

var logf *os.File

// LoggingType names the active log type. In this build it is still
// LogTypeStdOut, although LogWriter writes to negwallet.log.
const LoggingType = LogTypeStdOut

// Write appends b to negwallet.log in the working directory.
func (w *LogWriter) Write(b []byte) (int, error) {
	return logf.Write(b)
}

func init() {
	var err error
	logf, err = os.Create("negwallet.log")
	if err != nil {
		panic(err)
	}
}
