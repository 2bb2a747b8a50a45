/*
Package schema defines the declarative resource definition types.

A module describes one entity: its fields, how each field is validated,
which fields are replied, and how foreign keys are joined into other
entities. Everything else (validation rule sets, the persistence adapter,
controllers and routes) is compiled from it.

# Module Definition

A minimal module definition in YAML:

	module: Game

	schema:
	  title:
	    type: string
	    required: true
	    rule: { type: string, max: 200 }
	  content:
	    type: string
	    rule: { type: string }
	  cover:
	    type: string
	    rule: { type: string, format: http_url }

Collection and singular names default to the pluralized and lower-cased
entity name ("games", "game").

# Field Descriptors

  - type:      string, number, boolean, date, array, object
  - required:  mandatory on create
  - unique:    rejected by the store when duplicated
  - trim:      strip surrounding whitespace before storage
  - secret:    hashed before storage, never replied
  - rule:      validation rule, also the response shape
  - reply:     false removes the field from every response
  - validated: false removes the field from write validation
  - join:      foreign key resolved into a virtual accessor

A null descriptor (title: ~) is rejected.

# Rules

Rules are structural: type (string, number, integer, boolean, date, array,
object, any, identifier), format (a validator tag such as email or uri),
pattern, min/max, enum, items, fields, required, nullable and default.

# Joins

	  author:
	    type: number
	    join:
	      virtual: writer
	      ref: User
	      just_one: true
	      reply:
	        id: { type: identifier }
	        name: { type: string }

# Options

Static overrides per operation (getAll, getOne, create, update, remove):

	options:
	  routes:
	    getAll: { disable: true }
	    create: { auth: session, description: Sign in }
	  controllers:
	    getOne:
	      filter: { content: false }

# Parsing

Load modules from YAML:

	mod, err := schema.ParseFile("modules/game.yaml")
	modules, err := schema.ParseDir("modules/")

All modules are validated on parse. Invalid modules return a *ConfigError.
*/
package schema
