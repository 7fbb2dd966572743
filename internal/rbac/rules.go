package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"learner": {
		"quiz:view",
		"attempt:create",
		"attempt:answer",
		"attempt:submit",
		"attempt:view-own",
	},
	"instructor": {
		"quiz:create",
		"quiz:view",
		"quiz:view-keys",
		"attempt:view-all",
		"attempt:grade",
		"history:view-all",
	},
	"admin": {
		"*", // everything
	},
}
