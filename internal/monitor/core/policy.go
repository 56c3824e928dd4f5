// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package core

// Decision is the outcome of classifying an incoming report.
type Decision int

const (
	Ignore Decision = iota
	Save
	ReplaceExisting
	ModifyExisting
)

func (d Decision) String() string {
	switch d {
	case Ignore:
		return "ignore"
	case Save:
		return "save"
	case ReplaceExisting:
		return "replace"
	case ModifyExisting:
		return "modify"
	default:
		return "unknown"
	}
}

// Classify decides what to do with a report carrying code, given the record
// already known for the same transmission (nil when there is none).
//
//	code  existing        decision
//	'M'   any             Ignore
//	'G'   none            Save
//	'G'   primary '?'     ReplaceExisting
//	'G'   other primary   Ignore
//	'?'   none            Save
//	'?'   any             Ignore
//	other none            Ignore
//	other any             ModifyExisting
//
// A zero code is Ignore; callers are expected to reject it earlier.
func Classify(code byte, existing *Record) Decision {
	switch code {
	case 0, CodeMissing:
		return Ignore
	case CodeGood:
		if existing == nil {
			return Save
		}
		if existing.PrimaryCode() == CodeQuestionable {
			return ReplaceExisting
		}
		return Ignore
	case CodeQuestionable:
		if existing == nil {
			return Save
		}
		return Ignore
	default:
		if existing == nil {
			return Ignore
		}
		return ModifyExisting
	}
}
