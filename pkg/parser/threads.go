// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parser

import (
	"strings"
)

// Thread is a thread of a process.
type Thread struct {
	PID  int    // process (thread group) ID
	TID  int    // thread ID
	Name string // thread command name
}

// ThreadListParser parses the thread listing of ps -Te, with the columns
// PID, SPID, TTY, TIME and CMD. The header and any other line without
// numeric PID and SPID columns are skipped.
var ThreadListParser Parser[[]Thread] = Func[[]Thread](ParseThreadList)

// ParseThreadList implements ThreadListParser.
func ParseThreadList(raw string) ([]Thread, error) {
	threads := []Thread{}

	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !isNumber(fields[0]) || !isNumber(fields[1]) {
			continue
		}
		pid, err := atoi(fields[0])
		if err != nil {
			return nil, err
		}
		tid, err := atoi(fields[1])
		if err != nil {
			return nil, err
		}
		threads = append(threads, Thread{
			PID:  pid,
			TID:  tid,
			Name: strings.Join(fields[4:], " "),
		})
	}

	return threads, nil
}
