package database

import (
	"reflect"
	"testing"
)

func TestUnknownStrictColumns(t *testing.T) {
	existing := map[string]map[string]columnMeta{
		"assets": {
			"id":        {Strict: true},
			"ownerId":   {Strict: true},
			"checksum":  {Strict: true},
			"createdAt": {Strict: false},
		},
		"exif": {
			"assetId": {Strict: true},
			"make":    {Strict: false},
		},
		"albums": {
			// Not an insert target, so a strict surprise here is fine.
			"order": {Strict: true},
		},
	}

	if got := unknownStrictColumns(existing); got != nil {
		t.Fatalf("got violations %v, want none", got)
	}

	existing["assets"]["sidecarPath"] = columnMeta{Strict: true}
	existing["exif"]["checksum"] = columnMeta{Strict: true}

	got := unknownStrictColumns(existing)
	want := []string{"assets.sidecarPath", "exif.checksum"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got violations %v, want %v", got, want)
	}
}

func TestUnknownStrictColumnsIgnoresColumnsWithDefaults(t *testing.T) {
	existing := map[string]map[string]columnMeta{
		"person": {
			"id":        {Strict: true},
			"ownerId":   {Strict: true},
			"updatedAt": {Strict: false},
			"updateId":  {Strict: false},
		},
	}
	if got := unknownStrictColumns(existing); got != nil {
		t.Fatalf("got violations %v, want none", got)
	}
}
