package content

// packSchema validates a content pack before any entity is constructed.
// Malformed packs surface as synchronous validation errors, never as
// mid-tick surprises.
const packSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "resources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "unlocked": {"type": "boolean"},
          "amount": {"type": "number", "minimum": 0},
          "rate": {"type": "number"},
          "costs": {"$ref": "#/definitions/costList"},
          "unlock": {"$ref": "#/definitions/complexCondition"}
        }
      }
    },
    "storages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "unlocked": {"type": "boolean"},
          "capacities": {
            "type": "object",
            "additionalProperties": {"type": "number", "minimum": 0}
          },
          "constructionSeconds": {"type": "number", "minimum": 0},
          "costs": {"$ref": "#/definitions/costList"},
          "unlock": {"$ref": "#/definitions/complexCondition"}
        }
      }
    },
    "producers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "unlocked": {"type": "boolean"},
          "inputs": {
            "type": "object",
            "additionalProperties": {"type": "number", "minimum": 0}
          },
          "outputs": {
            "type": "object",
            "additionalProperties": {"type": "number", "minimum": 0}
          },
          "cycleSeconds": {"type": "number", "exclusiveMinimum": 0},
          "costs": {"$ref": "#/definitions/costList"},
          "unlock": {"$ref": "#/definitions/complexCondition"}
        }
      }
    },
    "upgrades": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "tags": {"type": "array", "items": {"type": "string"}},
          "unlocked": {"type": "boolean"},
          "costs": {"$ref": "#/definitions/costList"},
          "unlock": {"$ref": "#/definitions/complexCondition"}
        }
      }
    }
  },
  "definitions": {
    "costList": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["resourceId", "amount"],
        "additionalProperties": false,
        "properties": {
          "resourceId": {"type": "string", "minLength": 1},
          "amount": {"type": "number", "minimum": 0},
          "scalingFactor": {"type": "number", "minimum": 0},
          "multiplier": {"type": "number", "minimum": 0}
        }
      }
    },
    "conditionNode": {
      "type": "object",
      "required": ["type", "operation"],
      "additionalProperties": false,
      "properties": {
        "type": {
          "enum": [
            "resourceAmount", "resourceRate", "buildingCount",
            "buildingLevel", "upgradeApplied", "timeElapsed",
            "unlockedCount", "storageCapacity", "property", "count", "sum"
          ]
        },
        "target": {"type": "string"},
        "property": {"type": "string"},
        "spec": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "tag": {"type": "string"},
            "namePattern": {"type": "string"},
            "unlocked": {"type": "boolean"}
          }
        },
        "operation": {
          "enum": [
            "equals", "not_equals", "greater", "greater_or_equal",
            "less", "less_or_equal", "contains", "not_contains",
            "exists", "not_exists", "between", "in_list", "matches_pattern"
          ]
        },
        "value": {}
      }
    },
    "complexCondition": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "condition": {"$ref": "#/definitions/conditionNode"},
        "orConditions": {"type": "array", "items": {"$ref": "#/definitions/conditionNode"}},
        "andConditions": {"type": "array", "items": {"$ref": "#/definitions/conditionNode"}},
        "notConditions": {"type": "array", "items": {"$ref": "#/definitions/conditionNode"}},
        "prerequisites": {"type": "array", "items": {"type": "string"}},
        "timeDelaySeconds": {"type": "number", "minimum": 0}
      }
    }
  }
}`
