// Copyright 2025 Tom Barlow
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

/*
Package lifecycle guards the daemon against running twice.

A daemon holds an exclusive flock on its PID file for as long as it runs.
A file left by a crashed daemon is unlocked and is taken over by the next
one:

	pf, err := lifecycle.AcquirePIDFile("/path/to/nodehook.pid")
	if err != nil {
	    // Another daemon is running
	}
	defer pf.Release()

Tools that must not run alongside a daemon, such as sweep, probe the lock
without taking it:

	pid, running, err := lifecycle.IsLocked("/path/to/nodehook.pid")
*/
package lifecycle
