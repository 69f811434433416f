package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidUsername(t *testing.T) {
	valid := []string{"alice", "a_b_c", "user.name", "x123", "_underscore", "1234"}
	for _, u := range valid {
		assert.True(t, ValidUsername(u), u)
	}

	invalid := []string{
		"", "abc", ".dot", "trailing.", "dou..ble",
		"has space", "über", "thisusernameisfartoolongtobeaccepted",
	}
	for _, u := range invalid {
		assert.False(t, ValidUsername(u), u)
	}
}

func TestValidateRegisterInput(t *testing.T) {
	errs := ValidateRegisterInput("alice", "password1A")
	assert.False(t, errs.HasErrors())

	errs = ValidateRegisterInput("", "password1A")
	assert.Contains(t, errs, "username")

	errs = ValidateRegisterInput("alice", "short")
	assert.Contains(t, errs, "password")
	assert.Contains(t, errs.Error(), "password")
}

func TestValidSharePermission(t *testing.T) {
	for p := 0; p <= 2; p++ {
		assert.True(t, ValidSharePermission(p))
	}
	assert.False(t, ValidSharePermission(-1))
	assert.False(t, ValidSharePermission(3))
}

func TestValidPostRange(t *testing.T) {
	assert.True(t, ValidPostRange(1, 1))
	assert.True(t, ValidPostRange(3, 10))
	assert.False(t, ValidPostRange(0, 5))
	assert.False(t, ValidPostRange(5, 4))
	assert.False(t, ValidPostRange(-1, -1))
}
