package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pierrelefevre/grain/registry/auth/userfile"
)

// userEntry mirrors the admin API's user representation. Passwords never
// appear in responses.
type userEntry struct {
	Username    string                `json:"username"`
	Permissions []userfile.Permission `json:"permissions"`
}

type userList struct {
	Users []userEntry `json:"users"`
}

type createUserPayload struct {
	Username    string                `json:"username"`
	Password    string                `json:"password"`
	Permissions []userfile.Permission `json:"permissions"`
}

var (
	createPassword string

	permRepository string
	permTag        string
	permActions    []string
)

func init() {
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userAddPermissionCmd)

	userCreateCmd.Flags().StringVar(&createPassword, "password", "", "password for the new user")
	userCreateCmd.Flags().StringVar(&permRepository, "repository", "", "repository pattern for an initial permission")
	userCreateCmd.Flags().StringVar(&permTag, "tag", "*", "tag pattern for the initial permission")
	userCreateCmd.Flags().StringSliceVar(&permActions, "actions", []string{"pull"}, "actions granted by the initial permission")

	userAddPermissionCmd.Flags().StringVar(&permRepository, "repository", "", "repository pattern the permission applies to")
	userAddPermissionCmd.Flags().StringVar(&permTag, "tag", "*", "tag pattern the permission applies to")
	userAddPermissionCmd.Flags().StringSliceVar(&permActions, "actions", []string{"pull"}, "actions granted (pull, push, delete)")
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "`user` manages registry users",
	Long:  "`user` manages registry users and their permission grants.",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "`list` prints all users and their permissions",
	Run: func(cmd *cobra.Command, args []string) {
		var users userList
		if err := newClient().do(http.MethodGet, "/admin/users", nil, &users); err != nil {
			fmt.Fprintf(os.Stderr, "listing users: %v\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		// nolint:errcheck
		fmt.Fprintln(w, "USERNAME\tPERMISSIONS")
		for _, u := range users.Users {
			// nolint:errcheck
			fmt.Fprintf(w, "%s\t%s\n", u.Username, permissionSummary(u.Permissions))
		}
		// nolint:errcheck
		w.Flush()
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "`create` adds a new user",
	Long:  "`create` adds a new user, optionally with an initial permission when --repository is given.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := createUserPayload{
			Username:    args[0],
			Password:    createPassword,
			Permissions: []userfile.Permission{},
		}
		if permRepository != "" {
			payload.Permissions = append(payload.Permissions, userfile.Permission{
				Repository: permRepository,
				Tag:        permTag,
				Actions:    permActions,
			})
		}

		var created userEntry
		if err := newClient().do(http.MethodPost, "/admin/users", payload, &created); err != nil {
			fmt.Fprintf(os.Stderr, "creating user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created user %q with %s\n", created.Username, permissionSummary(created.Permissions))
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "`delete` removes a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := newClient().do(http.MethodDelete, "/admin/users/"+url.PathEscape(name), nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "deleting user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("deleted user %q\n", name)
	},
}

var userAddPermissionCmd = &cobra.Command{
	Use:   "add-permission <username>",
	Short: "`add-permission` grants a user actions on matching repositories and tags",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if permRepository == "" {
			fmt.Fprintln(os.Stderr, "--repository is required")
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		name := args[0]
		perm := userfile.Permission{
			Repository: permRepository,
			Tag:        permTag,
			Actions:    permActions,
		}
		var granted userfile.Permission
		if err := newClient().do(http.MethodPost, "/admin/users/"+url.PathEscape(name)+"/permissions", perm, &granted); err != nil {
			fmt.Fprintf(os.Stderr, "adding permission: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("granted %s on %s:%s to %q\n", strings.Join(granted.Actions, ","), granted.Repository, granted.Tag, name)
	},
}

// permissionSummary renders grants as repo:tag[actions] pairs for table
// output.
func permissionSummary(perms []userfile.Permission) string {
	if len(perms) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(perms))
	for _, p := range perms {
		parts = append(parts, fmt.Sprintf("%s:%s[%s]", p.Repository, p.Tag, strings.Join(p.Actions, ",")))
	}
	return strings.Join(parts, " ")
}
