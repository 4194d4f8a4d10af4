/*
Copyright (c) Eden Dev, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
)

var DoNotPrompt bool

func FileOrFolderExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		} else {
			ErrExit("check if %q exists: %s", path, err)
		}
	}
	return true
}

func Readline(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		l, more, err := r.ReadLine()
		if err != nil {
			return string(line), err
		}
		line = append(line, l...)
		if !more {
			break
		}
	}
	return string(line), nil
}

func AskPrompt(args ...string) bool {
	if DoNotPrompt {
		return true
	}
	var input string
	msg := strings.Join(args, " ")
	fmt.Printf("%s (y/n): ", msg)

	_, err := fmt.Scan(&input)
	for err != nil && strings.Contains(err.Error(), "unexpected newline") {
		_, err = fmt.Scan(&input)
	}
	if err != nil {
		if err == io.EOF {
			return false
		}
		ErrExit("read from stdin: %s", err)
	}

	input = strings.TrimSpace(strings.ToLower(input))
	return lo.Contains([]string{"y", "yes"}, input)
}
