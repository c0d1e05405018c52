// Copyright 2019 The Mangos Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

// The following are Options used by Handle.SetOption and
// Handle.GetOption.

const (
	// OptionBatchLimit is the most messages a single readiness
	// callback will deliver before yielding back to the loop.  The
	// value is a positive int.  Lower values favor latency of other
	// loop work; higher values favor socket throughput.
	OptionBatchLimit = "BATCH-LIMIT"

	// OptionEventsCheck is how many receives pass between readiness
	// re-checks during a drain, amortizing the cost of the readiness
	// query while still letting an exhausted burst end early.  The
	// value is an int; zero disables re-checking, leaving only the
	// batch limit and would-block to end a drain.
	OptionEventsCheck = "EVENTS-CHECK"

	// OptionLogger supplies the zerolog.Logger used for drain
	// diagnostics.  The value is a zerolog.Logger.  The default
	// discards everything.
	OptionLogger = "LOGGER"
)
