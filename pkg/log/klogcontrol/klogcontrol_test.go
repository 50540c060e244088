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

package klogcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/log/klogcontrol"
)

func TestEnvName(t *testing.T) {
	require.Equal(t, "LOGGER_SKIP_HEADERS", envName("skip_headers"))
	require.Equal(t, "LOGGER_LOG_FILE", envName("log-file"))
}

func TestConfigure(t *testing.T) {
	old, ok := Get().Flag("v")
	require.True(t, ok)
	defer Get().flags.Set("v", old)

	v := 4
	require.NoError(t, Get().Configure(&cfgapi.Config{V: &v}))
	value, ok := Get().Flag("v")
	require.True(t, ok)
	require.Equal(t, "4", value)

	require.Error(t, Get().Configure(&cfgapi.Config{Stderrthreshold: "LOUD"}))

	_, ok = Get().Flag("no_such_flag")
	require.False(t, ok)
}

func TestApplyEnv(t *testing.T) {
	old, _ := Get().Flag("one_output")
	defer Get().flags.Set("one_output", old)

	t.Setenv("LOGGER_ONE_OUTPUT", "true")
	require.Empty(t, Get().applyEnv())
	value, _ := Get().Flag("one_output")
	require.Equal(t, "true", value)

	t.Setenv("LOGGER_ONE_OUTPUT", "maybe")
	require.Len(t, Get().applyEnv(), 1)
}
